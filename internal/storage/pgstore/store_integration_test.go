//go:build integration_test || all_tests

package pgstore_test

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"testing"

	"github.com/2beens/fittracker/internal/db"
	"github.com/2beens/fittracker/internal/storage"
	"github.com/2beens/fittracker/internal/storage/pgstore"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/suite"
)

const testDBName = "fittracker"

type StoreTestSuite struct {
	suite.Suite

	DB         *sql.DB
	pool       *pgxpool.Pool
	store      *pgstore.Store
	dockerPool *dockertest.Pool
	teardown   []func()
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (s *StoreTestSuite) SetupSuite() {
	ctx := context.Background()

	var err error
	s.dockerPool, err = dockertest.NewPool("")
	if err != nil {
		log.Fatalf("could not create new dockertest pool: %s", err)
	}
	if err = s.dockerPool.Client.Ping(); err != nil {
		log.Fatalf("could not ping dockertest pool: %s", err)
	}

	pgResource, err := s.dockerPool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "16",
		Env: []string{
			"POSTGRES_USER=postgres",
			"POSTGRES_DB=" + testDBName,
			"POSTGRES_HOST_AUTH_METHOD=trust",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{
			Name: "no",
		}
	})
	if err != nil {
		log.Fatalf("dockerpool run postgres: %s", err)
	}
	s.teardown = append(s.teardown, func() {
		if err := pgResource.Close(); err != nil {
			fmt.Printf("postgres teardown: %s\n", err)
		}
	})

	pgPort := pgResource.GetPort("5432/tcp")
	s.DB, err = sql.Open("postgres", fmt.Sprintf(
		"postgres://postgres@localhost:%s/%s?sslmode=disable", pgPort, testDBName,
	))
	if err != nil {
		s.cleanup()
		log.Fatalf("sql open: %s", err)
	}
	if err := s.dockerPool.Retry(s.DB.Ping); err != nil {
		s.cleanup()
		log.Fatalf("connect to db: %s", err)
	}

	s.pool, err = db.NewDBPool(ctx, db.NewDBPoolParams{
		DBHost: "localhost",
		DBPort: pgPort,
		DBName: testDBName,
	})
	if err != nil {
		s.cleanup()
		log.Fatalf("new db pool: %s", err)
	}

	s.store = pgstore.New(s.pool)
	if err := s.store.Migrate(ctx); err != nil {
		s.cleanup()
		log.Fatalf("migrate: %s", err)
	}
}

func (s *StoreTestSuite) TearDownSuite() {
	s.cleanup()
}

func (s *StoreTestSuite) cleanup() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.DB != nil {
		_ = s.DB.Close()
	}
	for _, teardown := range s.teardown {
		teardown()
	}
}

func (s *StoreTestSuite) TestLoadSaveDelete() {
	ctx := context.Background()
	key := storage.Key("counters", "water", "2024-05-06")

	_, err := s.store.Load(ctx, key)
	s.ErrorIs(err, storage.ErrNotFound)

	s.Require().NoError(s.store.Save(ctx, key, []byte(`{"250":2}`)))
	s.Require().NoError(s.store.Save(ctx, key, []byte(`{"250":3}`)))

	v, err := s.store.Load(ctx, key)
	s.Require().NoError(err)
	s.Equal(`{"250":3}`, string(v))

	var rows int
	s.Require().NoError(s.DB.QueryRow(`SELECT COUNT(*) FROM tracker_kv WHERE key = $1`, key).Scan(&rows))
	s.Equal(1, rows)

	s.Require().NoError(s.store.Delete(ctx, key))
	s.ErrorIs(s.store.Delete(ctx, key), storage.ErrNotFound)
}

func (s *StoreTestSuite) TestMigrate_Idempotent() {
	s.NoError(s.store.Migrate(context.Background()))
}
