package auth

import (
	"embed"
	"io/fs"
)

// MigrationsDir is the path of the goose migrations inside GetMigrationsFS
const MigrationsDir = "data/sql/migrations"

//go:embed data/sql/migrations/*.sql
var migrationsFS embed.FS

//go:embed data/templates/email/*
var emailTemplatesFS embed.FS

// EmailTemplatesDir is the path of the email templates inside GetEmailTemplatesFS
const EmailTemplatesDir = "data/templates/email"

// GetEmailTemplatesFS returns the default pongo2 email templates
func GetEmailTemplatesFS() embed.FS {
	return emailTemplatesFS
}

// GetMigrationsFS returns the goose migration files for the users table
func GetMigrationsFS() embed.FS {
	return migrationsFS
}

// MigrationFiles lists the embedded migration file names in apply order
func MigrationFiles() ([]string, error) {
	entries, err := fs.ReadDir(migrationsFS, MigrationsDir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
