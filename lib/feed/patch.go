// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package feed

import (
	"fmt"
	"slices"
)

// PatchKind names one kind of change to an ordered collection.
type PatchKind string

const (
	KindInsertAt  PatchKind = "insert_at"
	KindRemoveAt  PatchKind = "remove_at"
	KindSetAt     PatchKind = "set_at"
	KindPushBack  PatchKind = "push_back"
	KindPushFront PatchKind = "push_front"
	KindPopBack   PatchKind = "pop_back"
	KindPopFront  PatchKind = "pop_front"
	KindClear     PatchKind = "clear"
	KindReset     PatchKind = "reset"
	KindAppend    PatchKind = "append"
	KindTruncate  PatchKind = "truncate"
)

// Patch describes one change. Which fields are meaningful depends on
// Kind: Index for insert_at, remove_at, and set_at; Value for
// insert_at, set_at, push_back, and push_front; Values for reset and
// append; Length for truncate.
type Patch[T any] struct {
	Kind   PatchKind `json:"kind"`
	Index  int       `json:"index"`
	Value  *T        `json:"value,omitempty"`
	Values []T       `json:"values,omitempty"`
	Length int       `json:"length,omitempty"`
}

func InsertAt[T any](index int, value T) Patch[T] {
	return Patch[T]{Kind: KindInsertAt, Index: index, Value: &value}
}

func RemoveAt[T any](index int) Patch[T] {
	return Patch[T]{Kind: KindRemoveAt, Index: index}
}

func SetAt[T any](index int, value T) Patch[T] {
	return Patch[T]{Kind: KindSetAt, Index: index, Value: &value}
}

func PushBack[T any](value T) Patch[T] {
	return Patch[T]{Kind: KindPushBack, Value: &value}
}

func PushFront[T any](value T) Patch[T] {
	return Patch[T]{Kind: KindPushFront, Value: &value}
}

func PopBack[T any]() Patch[T] { return Patch[T]{Kind: KindPopBack} }

func PopFront[T any]() Patch[T] { return Patch[T]{Kind: KindPopFront} }

func Clear[T any]() Patch[T] { return Patch[T]{Kind: KindClear} }

// Reset replaces the whole collection. values is copied.
func Reset[T any](values []T) Patch[T] {
	return Patch[T]{Kind: KindReset, Values: slices.Clone(values)}
}

// Append adds values at the end. values is copied.
func Append[T any](values []T) Patch[T] {
	return Patch[T]{Kind: KindAppend, Values: slices.Clone(values)}
}

// Truncate drops every item at or after length.
func Truncate[T any](length int) Patch[T] {
	return Patch[T]{Kind: KindTruncate, Length: length}
}

func (p Patch[T]) String() string {
	switch p.Kind {
	case KindInsertAt, KindRemoveAt, KindSetAt:
		return fmt.Sprintf("%s(%d)", p.Kind, p.Index)
	case KindReset, KindAppend:
		return fmt.Sprintf("%s(%d items)", p.Kind, len(p.Values))
	case KindTruncate:
		return fmt.Sprintf("%s(%d)", p.Kind, p.Length)
	}
	return string(p.Kind)
}

// Apply returns items with patch applied. items is not modified. An
// index outside the collection, a missing value, or an unknown kind
// is an error.
func Apply[T any](items []T, patch Patch[T]) ([]T, error) {
	result := slices.Clone(items)
	needValue := func() (T, error) {
		if patch.Value == nil {
			var zero T
			return zero, fmt.Errorf("feed: %s patch has no value", patch.Kind)
		}
		return *patch.Value, nil
	}

	switch patch.Kind {
	case KindInsertAt:
		value, err := needValue()
		if err != nil {
			return nil, err
		}
		if patch.Index < 0 || patch.Index > len(result) {
			return nil, indexError(patch, len(result))
		}
		return slices.Insert(result, patch.Index, value), nil

	case KindRemoveAt:
		if patch.Index < 0 || patch.Index >= len(result) {
			return nil, indexError(patch, len(result))
		}
		return slices.Delete(result, patch.Index, patch.Index+1), nil

	case KindSetAt:
		value, err := needValue()
		if err != nil {
			return nil, err
		}
		if patch.Index < 0 || patch.Index >= len(result) {
			return nil, indexError(patch, len(result))
		}
		result[patch.Index] = value
		return result, nil

	case KindPushBack:
		value, err := needValue()
		if err != nil {
			return nil, err
		}
		return append(result, value), nil

	case KindPushFront:
		value, err := needValue()
		if err != nil {
			return nil, err
		}
		return slices.Insert(result, 0, value), nil

	case KindPopBack:
		if len(result) == 0 {
			return nil, fmt.Errorf("feed: pop_back on an empty collection")
		}
		return result[:len(result)-1], nil

	case KindPopFront:
		if len(result) == 0 {
			return nil, fmt.Errorf("feed: pop_front on an empty collection")
		}
		return result[1:], nil

	case KindClear:
		return []T{}, nil

	case KindReset:
		return slices.Clone(patch.Values), nil

	case KindAppend:
		return append(result, patch.Values...), nil

	case KindTruncate:
		if patch.Length < 0 {
			return nil, fmt.Errorf("feed: truncate to negative length %d", patch.Length)
		}
		if patch.Length < len(result) {
			result = result[:patch.Length]
		}
		return result, nil
	}
	return nil, fmt.Errorf("feed: unknown patch kind %q", patch.Kind)
}

// ApplyAll applies a batch in order.
func ApplyAll[T any](items []T, batch []Patch[T]) ([]T, error) {
	current := slices.Clone(items)
	for index, patch := range batch {
		next, err := Apply(current, patch)
		if err != nil {
			return nil, fmt.Errorf("patch %d of %d: %w", index+1, len(batch), err)
		}
		current = next
	}
	return current, nil
}

func indexError[T any](patch Patch[T], length int) error {
	return fmt.Errorf("feed: %s index %d out of range for length %d", patch.Kind, patch.Index, length)
}
