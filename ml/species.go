package ml

import "fmt"

// Species is one of the three iris classes the model predicts.
type Species int

const (
	Setosa Species = iota
	Versicolor
	Virginica
)

// NumClasses is the size of the fixed class enumeration.
const NumClasses = 3

var speciesNames = [NumClasses]string{"setosa", "versicolor", "virginica"}

func (s Species) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Species(%d)", int(s))
	}
	return speciesNames[s]
}

func (s Species) Valid() bool {
	return s >= 0 && int(s) < NumClasses
}

// AllSpecies returns the class enumeration in label order.
func AllSpecies() []Species {
	return []Species{Setosa, Versicolor, Virginica}
}

// SpeciesNames returns the lowercase class names in label order.
func SpeciesNames() []string {
	names := make([]string, NumClasses)
	copy(names, speciesNames[:])
	return names
}

func ParseSpecies(name string) (Species, error) {
	for i, candidate := range speciesNames {
		if candidate == name {
			return Species(i), nil
		}
	}
	return 0, fmt.Errorf("unknown species %q", name)
}
