// Package out declares persistence for relationships, packages, and
// claims.
package out

import (
	"context"

	entities "github.com/duskvault/signing-core/pkg/cp/inheritance/entities"
)

// RelationshipRepository persists Relationships and their pre-uploaded
// packages.
type RelationshipRepository interface {
	Insert(ctx context.Context, r *entities.Relationship) error
	FindByID(ctx context.Context, id string) (*entities.Relationship, error)
	Update(ctx context.Context, r *entities.Relationship, expectedVersion int) error

	UpsertPackage(ctx context.Context, p *entities.Package) error
	FindPackageByRelationship(ctx context.Context, relationshipID string) (*entities.Package, error)
}

// ClaimRepository persists InheritanceClaims. Updates are conditional on
// BaseRecord.Version.
type ClaimRepository interface {
	Insert(ctx context.Context, c *entities.InheritanceClaim) error
	FindByID(ctx context.Context, id string) (*entities.InheritanceClaim, error)
	// FindNonTerminalByRelationship enforces the at-most-one non-terminal
	// claim per (benefactor, beneficiary) pair.
	FindNonTerminalByRelationship(ctx context.Context, relationshipID string) (*entities.InheritanceClaim, error)
	Update(ctx context.Context, c *entities.InheritanceClaim, expectedVersion int) error
}
