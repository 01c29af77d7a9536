package datastore

// BaseRepository is the versioned-merkle-store surface shared by every sub-app repository.
type BaseRepository interface {
	LoadLatest() (int64, error)
	LoadVersion(version int64) error
	Rollback()
	Hash() ([]byte, error)
	Save() ([]byte, int64, error)
}
