package entstore

import (
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"

	"github.com/wilhg/bookstore/pkg/store"
)

var (
	// AuthorsColumns holds the columns for the "authors" table. The id is a
	// caller-assigned UUID, never an identity column.
	AuthorsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Size: 64},
		{Name: "name", Type: field.TypeString},
		{Name: "genre", Type: field.TypeString},
		{Name: "age", Type: field.TypeInt},
	}
	// AuthorsTable holds the schema information for the "authors" table.
	AuthorsTable = &schema.Table{
		Name:       store.TableName,
		Columns:    AuthorsColumns,
		PrimaryKey: []*schema.Column{AuthorsColumns[0]},
	}
	// Tables holds all the tables in the schema.
	Tables = []*schema.Table{
		AuthorsTable,
	}
)
