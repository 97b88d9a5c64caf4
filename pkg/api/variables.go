package api

import "maps"

// Variables is a set of named process variable values
type Variables map[VariableName]any

// Clone returns a shallow copy of the variable set
func (v Variables) Clone() Variables {
	return maps.Clone(v)
}

// Merge returns a new set with the other set's entries layered on top
func (v Variables) Merge(other Variables) Variables {
	res := maps.Clone(v)
	if res == nil {
		res = Variables{}
	}
	maps.Copy(res, other)
	return res
}
