// Package models holds the GORM row types for the ingestion schema. The
// domain packages never see them; repositories convert at the boundary.
//
//   - base.go: AggregateModel, the id/version/timestamp columns
//   - catalog.go: catalog_files
//   - mapping_history.go: mapping_history
//   - warehouse.go: dimensions, facts and mv_refresh_log
package models
