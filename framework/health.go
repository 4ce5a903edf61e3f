package framework

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/shaurya/behave/db"
)

// Check is the status of one dependency.
type Check struct {
	Name   string `yaml:"name"`
	Status string `yaml:"status"`
}

// HealthReport is the result of App.Health.
type HealthReport struct {
	Ready            bool    `yaml:"ready"`
	Checks           []Check `yaml:"checks"`
	MigrationVersion int64   `yaml:"migration_version"`
}

// Health pings every configured dependency.
func (a *App) Health(ctx context.Context) HealthReport {
	report := HealthReport{Ready: true}
	add := func(name string, err error) {
		status := "ok"
		if err != nil {
			status = "error: " + err.Error()
			report.Ready = false
		}
		report.Checks = append(report.Checks, Check{Name: name, Status: status})
	}

	if a.DB == nil {
		report.Checks = append(report.Checks, Check{Name: "db", Status: "not configured"})
		report.Ready = false
	} else {
		sqlDB, err := a.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		add("db", err)
		if err == nil {
			v, err := db.Version(a.DB, db.Dialect(a.Config.Database))
			if err != nil {
				add("migrations", err)
			}
			report.MigrationVersion = v
		}
	}

	if a.Mongo != nil {
		add("mongo", a.Mongo.Ping(ctx, readpref.Primary()))
	}

	if a.Cache != nil {
		const key = "behave:health"
		err := a.Cache.Set(ctx, key, "ok", 0)
		if err == nil {
			_, err = a.Cache.Get(ctx, key)
			_ = a.Cache.Delete(ctx, key)
		}
		add("cache", err)
	}
	return report
}
