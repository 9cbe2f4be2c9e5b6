package sqlite

import "database/sql"

// FileRepository combines the SQLite read and write repositories.
type FileRepository struct {
	*FileReadRepository
	*FileWriteRepository
}

func NewFileRepository(dbConn *sql.DB) *FileRepository {
	return &FileRepository{
		FileReadRepository:  NewFileReadRepository(dbConn),
		FileWriteRepository: NewFileWriteRepository(dbConn),
	}
}
