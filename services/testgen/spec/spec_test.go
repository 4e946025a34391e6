// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package spec

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSelfHeal/services/testgen"
)

const petstoreYAML = `
id: petstore
title: Petstore
base_url: http://localhost:8080
operations:
  - operation_id: createPet
    method: POST
    path: /pets
    request_body:
      type: object
      required: [name]
      properties:
        name: {type: string}
    responses:
      "201": {type: object}
  - operation_id: getPet
    method: GET
    path: /pets/{id}
    responses:
      200: {type: object}
`

func TestMemoryStore_FindByID(t *testing.T) {
	store := NewMemoryStore(&NormalizedSpec{ID: "a"})

	sp, err := store.FindByID(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "a", sp.ID)

	_, err = store.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, testgen.ErrSpecNotFound)
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("yaml", func(t *testing.T) {
		path := filepath.Join(dir, "petstore.yaml")
		require.NoError(t, os.WriteFile(path, []byte(petstoreYAML), 0o644))

		sp, err := ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "petstore", sp.ID)
		require.Len(t, sp.Operations, 2)
		assert.Equal(t, []string{"name"}, sp.Operations[0].RequestBody.Required)
		assert.Equal(t, 201, sp.Operations[0].SuccessStatus())
		assert.Equal(t, 200, sp.Operations[1].SuccessStatus())
	})

	t.Run("json without id uses file name", func(t *testing.T) {
		path := filepath.Join(dir, "orders.json")
		body := `{"title":"Orders","operations":[{"operationId":"listOrders","method":"GET","path":"/orders"}]}`
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

		sp, err := ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "orders", sp.ID)
		assert.Equal(t, "listOrders", sp.Operations[0].ID())
	})

	t.Run("no operations", func(t *testing.T) {
		path := filepath.Join(dir, "empty.yaml")
		require.NoError(t, os.WriteFile(path, []byte("id: empty\n"), 0o644))
		_, err := ReadFile(path)
		assert.ErrorIs(t, err, ErrInvalidSpecFile)
	})
}

func TestOperation_Defaults(t *testing.T) {
	op := Operation{Method: "delete", Path: "/pets/{id}"}
	assert.Equal(t, "DELETE /pets/{id}", op.Key())
	assert.Equal(t, "DELETE /pets/{id}", op.ID())
	assert.Equal(t, 204, op.SuccessStatus())
}

func TestNormalizedSpec_Select(t *testing.T) {
	sp := &NormalizedSpec{Operations: []Operation{
		{OperationID: "createPet", Method: "POST", Path: "/pets"},
		{OperationID: "getPet", Method: "GET", Path: "/pets/{id}"},
	}}
	cfg := &testgen.RunConfig{Operations: []string{"getPet"}}
	got := sp.Select(cfg)
	require.Len(t, got, 1)
	assert.Equal(t, "getPet", got[0].OperationID)
}

func TestDirStore_Reload(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "petstore.yaml"), []byte(petstoreYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	store, err := OpenDirStore(dir, nil)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.FindByID(context.Background(), "petstore")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, store.Watch(ctx))

	body := `{"id":"orders","operations":[{"operationId":"listOrders","method":"GET","path":"/orders"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders.json"), []byte(body), 0o644))

	assert.Eventually(t, func() bool {
		_, err := store.FindByID(context.Background(), "orders")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(dir, "petstore.yaml")))
	assert.Eventually(t, func() bool {
		_, err := store.FindByID(context.Background(), "petstore")
		return err != nil
	}, 5*time.Second, 20*time.Millisecond)
}
