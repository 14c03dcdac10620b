// Package migrations embeds the SQL schema files into the binary so the
// migrate command runs without the files present on disk.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed *.sql
var files embed.FS

//go:embed seeds/*.sql
var seedFiles embed.FS

// FS exposes the embedded migration set.
func FS() embed.FS { return files }

// SeedFS exposes the embedded seed files rooted at the seed directory.
func SeedFS() fs.FS {
	sub, err := fs.Sub(seedFiles, "seeds")
	if err != nil {
		panic(err)
	}
	return sub
}
