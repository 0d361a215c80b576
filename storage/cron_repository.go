package storage

import (
	"fmt"
	"time"
)

// CronRun is the stored outcome of one cron invocation.
type CronRun struct {
	Job    string      `json:"job"`
	RanAt  time.Time   `json:"ranAt"`
	Report interface{} `json:"report,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// CronRepository keeps the last run of each cron job.
type CronRepository struct {
	db *DBStorage
}

func NewCronRepository(db *DBStorage) *CronRepository {
	return &CronRepository{db: db}
}

func cronKey(job string) string {
	return fmt.Sprintf("cron:%s:last", job)
}

func (r *CronRepository) Save(run CronRun) error {
	return r.db.PutObject(cronKey(run.Job), run, 0)
}

// Last returns the previous run of job, wrapping ErrNotFound if it never ran.
func (r *CronRepository) Last(job string) (CronRun, error) {
	var run CronRun
	err := r.db.GetObject(cronKey(job), &run)
	return run, err
}
