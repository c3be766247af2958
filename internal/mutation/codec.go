package mutation

import (
	"encoding/json"
	"fmt"
)

// newVariant returns an empty mutation of the given kind.
func newVariant(kind Kind) (Mutation, error) {
	switch kind {
	case KindInsertRows:
		return &InsertRows{}, nil
	case KindUpdateRows:
		return &UpdateRows{}, nil
	case KindDeleteRows:
		return &DeleteRows{}, nil
	case KindAddColumn:
		return &AddColumn{}, nil
	case KindDropColumn:
		return &DropColumn{}, nil
	case KindRenameColumn:
		return &RenameColumn{}, nil
	case KindChangeColumnNullable:
		return &ChangeColumnNullable{}, nil
	case KindCreateTable:
		return &CreateTable{}, nil
	case KindDropTable:
		return &DropTable{}, nil
	case KindRenameTable:
		return &RenameTable{}, nil
	case KindSetTableAnnotation:
		return &SetTableAnnotation{}, nil
	case KindSetColumnAnnotation:
		return &SetColumnAnnotation{}, nil
	case KindReorderColumns:
		return &ReorderColumns{}, nil
	default:
		return nil, fmt.Errorf("unknown mutation kind %q", kind)
	}
}

// MarshalMutation encodes m as a JSON object tagged with its kind.
func MarshalMutation(m Mutation) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	kind, err := json.Marshal(m.Kind())
	if err != nil {
		return nil, err
	}
	fields["kind"] = kind
	return json.Marshal(fields)
}

// UnmarshalMutation decodes a kind-tagged JSON object.
func UnmarshalMutation(data []byte) (Mutation, error) {
	var envelope struct {
		Kind Kind `json:"kind"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode mutation: %w", err)
	}
	m, err := newVariant(envelope.Kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to decode %s mutation: %w", envelope.Kind, err)
	}
	return m, nil
}

type transactionJSON struct {
	ID               string            `json:"id"`
	LogicalTimestamp int64             `json:"logical_timestamp"`
	Mutations        []json.RawMessage `json:"mutations"`
	Annotations      map[string]string `json:"annotations,omitempty"`
}

func (tx Transaction) MarshalJSON() ([]byte, error) {
	out := transactionJSON{
		ID:               tx.ID,
		LogicalTimestamp: tx.LogicalTimestamp,
		Mutations:        make([]json.RawMessage, 0, len(tx.Mutations)),
		Annotations:      tx.Annotations,
	}
	for i, m := range tx.Mutations {
		data, err := MarshalMutation(m)
		if err != nil {
			return nil, fmt.Errorf("mutation %d: %w", i, err)
		}
		out.Mutations = append(out.Mutations, data)
	}
	return json.Marshal(out)
}

func (tx *Transaction) UnmarshalJSON(data []byte) error {
	var in transactionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	mutations := make([]Mutation, 0, len(in.Mutations))
	for i, raw := range in.Mutations {
		m, err := UnmarshalMutation(raw)
		if err != nil {
			return fmt.Errorf("mutation %d: %w", i, err)
		}
		mutations = append(mutations, m)
	}
	*tx = Transaction{
		ID:               in.ID,
		LogicalTimestamp: in.LogicalTimestamp,
		Mutations:        mutations,
		Annotations:      in.Annotations,
	}
	return nil
}
