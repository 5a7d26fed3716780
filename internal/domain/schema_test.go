package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSQLSchema_String(t *testing.T) {
	s := SQLSchema{Dialect: "postgres", Tables: []Table{
		{Name: "orders", DDL: "CREATE TABLE orders (id INTEGER PRIMARY KEY)  "},
		{Name: "products", Columns: []Column{
			{Name: "id", Type: "integer"},
			{Name: "name", Type: "text", Nullable: true},
		}},
	}}

	want := "CREATE TABLE orders (id INTEGER PRIMARY KEY)\n" +
		"CREATE TABLE products (\n  id integer NOT NULL,\n  name text\n);"
	assert.Equal(t, want, s.String())
	assert.Equal(t, []string{"orders", "products"}, s.TableNames())
}

func TestNoSQLSchema_StringIsDeterministic(t *testing.T) {
	s := NoSQLSchema{Database: "db", Collections: map[string]map[string]string{
		"users": {"name": "string", "age": "int"},
		"roles": {"name": "string"},
	}}
	assert.Equal(t, []string{"roles", "users"}, s.CollectionNames())
	assert.Equal(t, []string{"age", "name"}, s.Fields("users"))
	assert.Equal(t, s.String(), s.String())
	assert.Less(t, strings.Index(s.String(), `"roles"`), strings.Index(s.String(), `"users"`))
}

func TestSchemaContext_Placeholders(t *testing.T) {
	var c SchemaContext
	assert.Equal(t, "No SQL schema available", c.SQLText())
	assert.Equal(t, "No NoSQL schema available", c.NoSQLText())

	c.SQLError = "connection refused"
	assert.Contains(t, c.SQLText(), "connection refused")
	assert.Contains(t, c.String(), "NoSQL Schema:")
}
