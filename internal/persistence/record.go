package persistence

// Record carries the identifier and revision common to persistent rows.
// The revision is tracked by the backend, not the serialized payload
type Record struct {
	RowID  string `json:"id"`
	RowRev int    `json:"-"`
}

func (r *Record) ID() string        { return r.RowID }
func (r *Record) SetID(id string)   { r.RowID = id }
func (r *Record) Revision() int     { return r.RowRev }
func (r *Record) SetRevision(n int) { r.RowRev = n }
