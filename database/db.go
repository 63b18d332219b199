package database

import (
	"database/sql"
	"log"
	"sync"

	"github.com/veilstats/veil/cache"
	"github.com/veilstats/veil/config"

	_ "github.com/lib/pq"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		newCache, errCache := cache.NewCache()
		if errCache != nil {
			log.Printf("cache unavailable, reads go straight to postgres: %v", errCache)
		}
		instance = &Datasource{Conn: con, Cache: newCache}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error: %v", err)
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates the schema objects the reveal protocol needs. Safe to
// run repeatedly.
func Migrate(db *sql.DB) error {
	if err := createExhibitionTable(db); err != nil {
		return err
	}
	if err := createRevealRequestTable(db); err != nil {
		return err
	}
	if err := createRevealedStatisticTable(db); err != nil {
		return err
	}
	return createNoiseEpochTable(db)
}

// createExhibitionTable creates a PostgreSQL table for the Exhibition struct
func createExhibitionTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS exhibitions (
			id SERIAL PRIMARY KEY,
			exhibition_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			organizer TEXT NOT NULL,
			encrypted_count TEXT NOT NULL DEFAULT '',
			encrypted_sum TEXT NOT NULL DEFAULT '',
			participation_count BIGINT NOT NULL DEFAULT 0,
			reveal_pending BOOLEAN NOT NULL DEFAULT FALSE,
			pending_request_id TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			meta_data JSONB
		)
	`)
	if err != nil {
		log.Printf("Error creating exhibitions table: %v", err)
	}
	return err
}

// createRevealRequestTable creates a PostgreSQL table for the RevealRequest struct
func createRevealRequestTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS reveal_requests (
			id SERIAL PRIMARY KEY,
			request_id TEXT NOT NULL UNIQUE,
			exhibition_id TEXT NOT NULL REFERENCES exhibitions(exhibition_id),
			requester TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('PENDING', 'COMPLETED', 'FAILED', 'TIMED_OUT')),
			callback_consumed BOOLEAN NOT NULL DEFAULT FALSE,
			refund_claimed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			meta_data JSONB
		)
	`)
	if err != nil {
		log.Printf("Error creating reveal_requests table: %v", err)
	}
	return err
}

// createRevealedStatisticTable creates a PostgreSQL table for the RevealedStatistic struct
func createRevealedStatisticTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS revealed_statistics (
			id SERIAL PRIMARY KEY,
			statistic_id TEXT NOT NULL UNIQUE,
			exhibition_id TEXT NOT NULL UNIQUE REFERENCES exhibitions(exhibition_id),
			request_id TEXT NOT NULL REFERENCES reveal_requests(request_id),
			raw_count BIGINT NOT NULL,
			raw_sum BIGINT NOT NULL,
			obfuscated_average BIGINT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating revealed_statistics table: %v", err)
	}
	return err
}

// createNoiseEpochTable holds the single process-wide noise nonce used
// by the small-sample obfuscation. One row, advanced only by the
// administrative refresh operation.
func createNoiseEpochTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS noise_epochs (
			id INT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
			nonce BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating noise_epochs table: %v", err)
		return err
	}
	_, err = db.Exec(`INSERT INTO noise_epochs (id, nonce) VALUES (1, 0) ON CONFLICT (id) DO NOTHING`)
	return err
}
