package store

import "context"

const taskFileColumns = `id, task_id, filename, original_filename, file_path, file_size,
	mime_type, file_type, description, uploaded_at`

func scanTaskFile(row rowScanner) (TaskFile, error) {
	var file TaskFile
	err := row.Scan(&file.ID, &file.TaskID, &file.Filename, &file.OriginalFilename, &file.FilePath,
		&file.FileSize, &file.MimeType, &file.FileType, &file.Description, &file.UploadedAt)
	return file, err
}

func (s *PostgresStore) CreateTaskFile(ctx context.Context, file TaskFile) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO task_files (id, task_id, filename, original_filename, file_path, file_size, mime_type, file_type, description, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, file.ID, file.TaskID, file.Filename, file.OriginalFilename, file.FilePath, file.FileSize,
		file.MimeType, file.FileType, file.Description, file.UploadedAt)
	return classify("insert task file", err)
}

func (s *PostgresStore) GetTaskFile(ctx context.Context, id string) (TaskFile, error) {
	file, err := scanTaskFile(s.q.QueryRowContext(ctx, `SELECT `+taskFileColumns+` FROM task_files WHERE id=$1`, id))
	if err != nil {
		return TaskFile{}, classify("read task file", err)
	}
	return file, nil
}

func (s *PostgresStore) ListTaskFiles(ctx context.Context, taskIDs ...string) ([]TaskFile, error) {
	files := make([]TaskFile, 0)
	if len(taskIDs) == 0 {
		return files, nil
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+taskFileColumns+` FROM task_files
		WHERE task_id = ANY($1)
		ORDER BY uploaded_at, id
	`, taskIDs)
	if err != nil {
		return nil, classify("list task files", err)
	}
	defer rows.Close()

	for rows.Next() {
		file, err := scanTaskFile(rows)
		if err != nil {
			return nil, classify("scan task file", err)
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

func (s *PostgresStore) DeleteTaskFile(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM task_files WHERE id=$1`, id)
	if err != nil {
		return classify("delete task file", err)
	}
	return requireAffected(res, "delete task file")
}
