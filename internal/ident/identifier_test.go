package ident_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirbelkuyu/dbsync/internal/ident"
)

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "simple", input: "orders"},
		{name: "mixed_case_and_space", input: "Order Data"},
		{name: "underscore_prefix", input: "_id"},
		{name: "max_length", input: strings.Repeat("a", 63)},
		{name: "multibyte_within_limit", input: strings.Repeat("ü", 31)},

		{name: "empty", input: "", wantErr: "name is required"},
		{name: "too_long", input: strings.Repeat("a", 64), wantErr: "at most 63 bytes"},
		{name: "multibyte_too_long", input: strings.Repeat("ü", 32), wantErr: "at most 63 bytes"},
		{name: "double_quote", input: `foo"bar`, wantErr: "quote character"},
		{name: "backtick", input: "foo`bar", wantErr: "quote character"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ident.ValidateIdentifier(tt.input)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ident.ErrInvalidIdentifier)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateTableName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "simple", input: "orders"},
		{name: "digits_and_underscores", input: "orders_2024_q1"},
		{name: "max_length", input: "a" + strings.Repeat("b", 62)},

		{name: "punctuation_and_space", input: "Order Data!", wantErr: "must match"},
		{name: "upper_case", input: "Orders", wantErr: "must match"},
		{name: "leading_digit", input: "1orders", wantErr: "must match"},
		{name: "leading_underscore", input: "_orders", wantErr: "must match"},
		{name: "hyphen", input: "order-data", wantErr: "must match"},
		{name: "too_long", input: "a" + strings.Repeat("b", 63), wantErr: "at most 63 bytes"},
		{name: "quote", input: `orders"`, wantErr: "quote character"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ident.ValidateTableName(tt.input)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ident.ErrInvalidIdentifier)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestQuoting(t *testing.T) {
	assert.Equal(t, `"users"`, ident.QuoteIdentifier("users", '"'))
	assert.Equal(t, `"my""table"`, ident.QuoteIdentifier(`my"table`, '"'))
	assert.Equal(t, "`my``table`", ident.QuoteIdentifier("my`table", '`'))
	assert.Equal(t, `'Bob'`, ident.QuoteLiteral("Bob"))
	assert.Equal(t, `'O''Brien'`, ident.QuoteLiteral("O'Brien"))
	assert.Equal(t, `''`, ident.QuoteLiteral(""))
}
