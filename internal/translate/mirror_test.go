package translate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirbelkuyu/dbsync/internal/catalog"
	"github.com/kadirbelkuyu/dbsync/internal/dialect"
	"github.com/kadirbelkuyu/dbsync/internal/mutation"
	"github.com/kadirbelkuyu/dbsync/internal/translate"
	"github.com/kadirbelkuyu/dbsync/internal/value"
)

func peopleSchema(t *testing.T) catalog.Schema {
	t.Helper()

	s, err := catalog.NewSchema(catalog.TableDescriptor{
		UUID: "T",
		Name: "people",
		Columns: []catalog.ColumnDescriptor{
			{UUID: "K", Name: catalog.KeyColumn, DataType: catalog.Int64},
			{UUID: "C1", Name: "name", DataType: catalog.String, Nullable: true},
			{UUID: "C2", Name: "age", DataType: catalog.Int32, Nullable: true},
		},
	})
	require.NoError(t, err)
	return s
}

func sqlOf(stmts []dialect.Statement) []string {
	out := make([]string, len(stmts))
	for i, stmt := range stmts {
		out[i] = stmt.SQL
	}
	return out
}

func tx(ms ...mutation.Mutation) *mutation.Transaction {
	return &mutation.Transaction{ID: "tx-1", LogicalTimestamp: 10, Mutations: ms}
}

func TestMirrorUpdateAddressesInternalKey(t *testing.T) {
	m := translate.NewMirror(dialect.Postgres{})

	stmts, err := m.Translate(peopleSchema(t), tx(&mutation.UpdateRows{
		TableUUID:     "T",
		ColumnMapping: []string{"C1"},
		Rows:          []mutation.Row{{Key: 5, Values: []value.Scalar{value.String("Bob")}}},
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{`update "people" set "name" = 'Bob' where "_key" = 5`}, sqlOf(stmts))
}

func TestMirrorRowStatements(t *testing.T) {
	m := translate.NewMirror(dialect.Postgres{})

	stmts, err := m.Translate(peopleSchema(t), tx(
		&mutation.InsertRows{
			TableUUID:     "T",
			ColumnMapping: []string{"C1", "C2"},
			Rows: []mutation.Row{
				{Key: 1, Values: []value.Scalar{value.String("O'Brien"), value.Int(41)}},
				{Key: 2, Values: []value.Scalar{value.Null(), value.Null()}},
			},
		},
		&mutation.UpdateRows{
			TableUUID:     "T",
			ColumnMapping: []string{"C2", "C1"},
			Rows:          []mutation.Row{{Key: 2, Values: []value.Scalar{value.Int(7), value.String("Ann")}}},
		},
		&mutation.DeleteRows{TableUUID: "T", Keys: []int64{1, 2}},
	))
	require.NoError(t, err)
	assert.Equal(t, []string{
		`insert into "people" ("_key", "name", "age") values (1, 'O''Brien', 41)`,
		`insert into "people" ("_key", "name", "age") values (2, null, null)`,
		`update "people" set "age" = 7, "name" = 'Ann' where "_key" = 2`,
		`delete from "people" where "_key" = 1`,
		`delete from "people" where "_key" = 2`,
	}, sqlOf(stmts))
}

func TestMirrorKeyInColumnMappingIsNotDuplicated(t *testing.T) {
	m := translate.NewMirror(dialect.Postgres{})

	stmts, err := m.Translate(peopleSchema(t), tx(
		&mutation.InsertRows{
			TableUUID:     "T",
			ColumnMapping: []string{"K", "C1"},
			Rows:          []mutation.Row{{Key: 3, Values: []value.Scalar{value.Int(3), value.String("Cy")}}},
		},
		&mutation.UpdateRows{
			TableUUID:     "T",
			ColumnMapping: []string{"K"},
			Rows:          []mutation.Row{{Key: 3, Values: []value.Scalar{value.Int(3)}}},
		},
	))
	require.NoError(t, err)
	assert.Equal(t, []string{`insert into "people" ("_key", "name") values (3, 'Cy')`}, sqlOf(stmts))
}

func TestMirrorChainedRenames(t *testing.T) {
	m := translate.NewMirror(dialect.Postgres{})

	stmts, err := m.Translate(peopleSchema(t), tx(
		&mutation.RenameColumn{TableUUID: "T", ColumnUUID: "C1", NewName: "full_name"},
		&mutation.RenameColumn{TableUUID: "T", ColumnUUID: "C1", NewName: "display_name"},
		&mutation.UpdateRows{
			TableUUID:     "T",
			ColumnMapping: []string{"C1"},
			Rows:          []mutation.Row{{Key: 1, Values: []value.Scalar{value.String("Bob")}}},
		},
		&mutation.RenameTable{TableUUID: "T", NewName: "persons"},
		&mutation.RenameTable{TableUUID: "T", NewName: "humans"},
		&mutation.DeleteRows{TableUUID: "T", Keys: []int64{1}},
	))
	require.NoError(t, err)
	assert.Equal(t, []string{
		`alter table "people" rename column "name" to "full_name"`,
		`alter table "people" rename column "full_name" to "display_name"`,
		`update "people" set "display_name" = 'Bob' where "_key" = 1`,
		`alter table "people" rename to "persons"`,
		`alter table "persons" rename to "humans"`,
		`delete from "humans" where "_key" = 1`,
	}, sqlOf(stmts))
}

func TestMirrorDDL(t *testing.T) {
	m := translate.NewMirror(dialect.Postgres{})

	stmts, err := m.Translate(catalog.Schema{}, tx(
		&mutation.CreateTable{Descriptor: catalog.TableDescriptor{
			UUID: "O",
			Name: "orders",
			Columns: []catalog.ColumnDescriptor{
				{UUID: "OK", Name: catalog.KeyColumn, DataType: catalog.Int64},
				{UUID: "OO", Name: catalog.OrdinalColumn, DataType: catalog.Float64},
				{UUID: "OT", Name: "total", DataType: catalog.Float64},
				{UUID: "OA", Name: "attachment", DataType: catalog.Bytes, Nullable: true},
			},
		}},
		&mutation.AddColumn{TableUUID: "O", Column: catalog.ColumnDescriptor{UUID: "OP", Name: "paid", DataType: catalog.Bool, Nullable: true}},
		&mutation.ChangeColumnNullable{TableUUID: "O", ColumnUUID: "OP", Nullable: false},
		&mutation.InsertRows{
			TableUUID:     "O",
			ColumnMapping: []string{"OT", "OA", "OP"},
			Rows:          []mutation.Row{{Key: 1, Values: []value.Scalar{value.Float(9.5), value.String("aGk="), value.Bool(true)}}},
		},
		&mutation.SetTableAnnotation{TableUUID: "O", Key: "owner", Value: "billing"},
		&mutation.ReorderColumns{TableUUID: "O", ColumnUUIDs: []string{"OK", "OO", "OP", "OT", "OA"}},
		&mutation.DropColumn{TableUUID: "O", ColumnUUID: "OA"},
		&mutation.DropTable{TableUUID: "O"},
	))
	require.NoError(t, err)
	assert.Equal(t, []string{
		`create table "orders" ("_key" bigint primary key, "_ordinal" double precision unique not null, "total" double precision not null, "attachment" bytea)`,
		`alter table "orders" add column "paid" boolean`,
		`alter table "orders" alter column "paid" set not null`,
		`insert into "orders" ("_key", "total", "attachment", "paid") values (1, 9.5, decode('aGk=', 'base64'), true)`,
		`alter table "orders" drop column "attachment"`,
		`drop table "orders"`,
	}, sqlOf(stmts))
}

func TestMirrorCreateTableAddsMissingKey(t *testing.T) {
	m := translate.NewMirror(dialect.MySQL{})

	stmts, err := m.Translate(catalog.Schema{}, tx(&mutation.CreateTable{Descriptor: catalog.TableDescriptor{
		UUID:    "N",
		Name:    "notes",
		Columns: []catalog.ColumnDescriptor{{UUID: "NB", Name: "body", DataType: catalog.String}},
	}}))
	require.NoError(t, err)
	assert.Equal(t, []string{"create table `notes` (`_key` bigint primary key, `body` longtext not null)"}, sqlOf(stmts))
}

func TestMirrorMySQL(t *testing.T) {
	m := translate.NewMirror(dialect.MySQL{})

	stmts, err := m.Translate(peopleSchema(t), tx(
		&mutation.UpdateRows{
			TableUUID:     "T",
			ColumnMapping: []string{"C1"},
			Rows:          []mutation.Row{{Key: 5, Values: []value.Scalar{value.String(`a\b`)}}},
		},
		&mutation.ChangeColumnNullable{TableUUID: "T", ColumnUUID: "C2", Nullable: false},
		&mutation.RenameTable{TableUUID: "T", NewName: "persons"},
	))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"update `people` set `name` = 'a\\\\b' where `_key` = 5",
		"alter table `people` modify column `age` int not null",
		"rename table `people` to `persons`",
	}, sqlOf(stmts))
}

func TestMirrorQualifiesConfiguredSchema(t *testing.T) {
	m := translate.NewMirror(dialect.Postgres{Schema: "sales"})

	stmts, err := m.Translate(peopleSchema(t), tx(
		&mutation.InsertRows{
			TableUUID:     "T",
			ColumnMapping: []string{"C1"},
			Rows:          []mutation.Row{{Key: 1, Values: []value.Scalar{value.String("Ann")}}},
		},
		&mutation.ChangeColumnNullable{TableUUID: "T", ColumnUUID: "C2", Nullable: false},
		&mutation.RenameTable{TableUUID: "T", NewName: "persons"},
		&mutation.DeleteRows{TableUUID: "T", Keys: []int64{1}},
		&mutation.CreateTable{Descriptor: catalog.TableDescriptor{
			UUID:    "N",
			Name:    "notes",
			Columns: []catalog.ColumnDescriptor{{UUID: "NK", Name: catalog.KeyColumn, DataType: catalog.Int64}},
		}},
	))
	require.NoError(t, err)
	assert.Equal(t, []string{
		`insert into "sales"."people" ("_key", "name") values (1, 'Ann')`,
		`alter table "sales"."people" alter column "age" set not null`,
		`alter table "sales"."people" rename to "persons"`,
		`delete from "sales"."persons" where "_key" = 1`,
		`create table "sales"."notes" ("_key" bigint primary key)`,
	}, sqlOf(stmts))
}

func TestMirrorReferentialErrors(t *testing.T) {
	m := translate.NewMirror(dialect.Postgres{})

	tests := []struct {
		name    string
		m       mutation.Mutation
		wantErr error
	}{
		{name: "unknown table", m: &mutation.DeleteRows{TableUUID: "missing", Keys: []int64{1}}, wantErr: catalog.ErrUnknownTable},
		{name: "unknown column", m: &mutation.DropColumn{TableUUID: "T", ColumnUUID: "missing"}, wantErr: catalog.ErrUnknownColumn},
		{
			name: "unknown mapped column",
			m: &mutation.InsertRows{
				TableUUID:     "T",
				ColumnMapping: []string{"C9"},
				Rows:          []mutation.Row{{Key: 1, Values: []value.Scalar{value.Int(1)}}},
			},
			wantErr: catalog.ErrUnknownColumn,
		},
		{
			name: "row width",
			m: &mutation.InsertRows{
				TableUUID:     "T",
				ColumnMapping: []string{"C1", "C2"},
				Rows:          []mutation.Row{{Key: 1, Values: []value.Scalar{value.Int(1)}}},
			},
			wantErr: translate.ErrRowWidth,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmts, err := m.Translate(peopleSchema(t), tx(
				&mutation.InsertRows{TableUUID: "T", ColumnMapping: []string{"C1"}, Rows: []mutation.Row{{Key: 9, Values: []value.Scalar{value.String("x")}}}},
				tt.m,
			))
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, stmts)
			assert.Contains(t, err.Error(), "transaction tx-1 mutation 1")
		})
	}
}

func TestMirrorRejectsInvalidTableName(t *testing.T) {
	m := translate.NewMirror(dialect.Postgres{})

	_, err := m.Translate(peopleSchema(t), tx(&mutation.RenameTable{TableUUID: "T", NewName: "Order Data!"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must match")
}
