package persistence

type (
	// Kind discriminates the persistent object types managed by a backend
	Kind string

	// PersistentObject is implemented by every object a Session manages.
	// State returns a value snapshot of the object's persistent fields;
	// two snapshots compare equal exactly when the object is clean
	PersistentObject interface {
		ID() string
		SetID(id string)
		Kind() Kind
		State() any
	}

	// Revisioned is implemented by objects protected by optimistic
	// locking. The revision is incremented on every successful update
	Revisioned interface {
		PersistentObject
		Revision() int
		SetRevision(rev int)
	}
)
