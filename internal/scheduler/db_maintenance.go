package scheduler

import (
	"github.com/rs/zerolog"

	"github.com/procurehq/spendguard/internal/database"
	"github.com/procurehq/spendguard/internal/utils"
)

// DatabaseMaintenanceJob keeps the sqlite files compact: it truncates each
// database's WAL and reclaims free pages. Scheduled off-peak because VACUUM
// rewrites the whole file.
type DatabaseMaintenanceJob struct {
	databases []*database.DB
	log       zerolog.Logger
}

// NewDatabaseMaintenanceJob creates a maintenance job over the given databases.
func NewDatabaseMaintenanceJob(databases []*database.DB, log zerolog.Logger) *DatabaseMaintenanceJob {
	return &DatabaseMaintenanceJob{
		databases: databases,
		log:       log.With().Str("job", "db_maintenance").Logger(),
	}
}

// Name implements the Job interface.
func (j *DatabaseMaintenanceJob) Name() string {
	return "db_maintenance"
}

// Run checkpoints and vacuums every database. A failure on one database is
// logged and the rest are still processed.
func (j *DatabaseMaintenanceJob) Run() error {
	defer utils.OperationTimer("db_maintenance_pass", j.log)()

	maintained := 0
	for _, db := range j.databases {
		if db == nil {
			continue
		}

		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
			continue
		}

		if err := db.Vacuum(); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("Vacuum failed")
			continue
		}

		if stats, err := db.GetStats(); err == nil {
			j.log.Debug().
				Str("database", db.Name()).
				Int64("size_bytes", stats.SizeBytes).
				Int64("wal_size_bytes", stats.WALSizeBytes).
				Msg("Database maintained")
		}

		maintained++
	}

	j.log.Info().
		Int("maintained", maintained).
		Int("total", len(j.databases)).
		Msg("Database maintenance pass finished")

	return nil
}
