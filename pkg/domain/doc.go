// Package domain defines the core business types for the trade-document
// intelligence pipeline.
//
// This package contains pure domain logic with ZERO external dependencies outside the
// Go standard library. Provider clients, adapters, storage and transport depend on
// these types; the dependency direction is always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
//
// The error taxonomy in errors.go is the single vocabulary used to describe
// provider failures. Provider clients translate their wire-level error shapes
// into it at the boundary so the rest of the system never inspects error text.
package domain
