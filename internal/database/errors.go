package database

import "errors"

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("entity not found")

// ErrAlreadyExists is returned when creating an entity whose id is taken
var ErrAlreadyExists = errors.New("entity already exists")

// ErrStaleMatrix is returned when the stored matrix snapshot no longer
// matches the project's current stop set
var ErrStaleMatrix = errors.New("matrix snapshot is stale for the current stop set")

// ErrDepotExists is returned when a second depot is created for a project
var ErrDepotExists = errors.New("project already has a depot")

// ErrDepotInUse is returned when deleting the depot while other stops remain
var ErrDepotInUse = errors.New("depot cannot be deleted while other stops exist")
