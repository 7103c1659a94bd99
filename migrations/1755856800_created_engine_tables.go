package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"

	"ticket-engine/internal/storage"
)

func init() {
	m.Register(func(app core.App) error {
		return storage.Apply(app.DB())
	}, func(app core.App) error {
		tables := []string{
			"processed_events",
			"tickets",
			"transactions",
			"reservations",
			"ticket_types",
		}
		for _, table := range tables {
			if _, err := app.DB().NewQuery("DROP TABLE IF EXISTS " + table).Execute(); err != nil {
				return err
			}
		}
		return nil
	})
}
