package model

import "database/sql"

// Project is a dedup record written by the mining pipeline. ProcessedAt stays
// NULL while the pipeline is still working on the repository.
type Project struct {
	ID          int64        `db:"id"`
	GitURL      string       `db:"git_url"`
	DatasetName string       `db:"dataset_name"`
	ProcessedAt sql.NullTime `db:"processed_at"`
}
