package models

import (
	"time"

	"github.com/erp/ingestion/internal/domain/catalog"
	"github.com/shopspring/decimal"
)

// CatalogFileModel is the persistence model for the CatalogFile aggregate.
type CatalogFileModel struct {
	AggregateModel
	FilePath         string               `gorm:"type:text;not null"`
	FileName         string               `gorm:"type:varchar(255);not null"`
	Source           string               `gorm:"type:varchar(100);not null;default:'temp/outputs'"`
	FileSize         int64                `gorm:"not null;default:0"`
	FileHash         string               `gorm:"type:varchar(64);not null;uniqueIndex:idx_catalog_files_hash"`
	PlatformCode     string               `gorm:"type:varchar(32);index"`
	Account          string               `gorm:"type:varchar(100)"`
	ShopID           string               `gorm:"type:varchar(100)"`
	DataDomain       catalog.DataDomain   `gorm:"type:varchar(32);index"`
	SubDomain        string               `gorm:"type:varchar(64)"`
	Granularity      catalog.Granularity  `gorm:"type:varchar(16)"`
	DateFrom         *time.Time           `gorm:"type:date"`
	DateTo           *time.Time           `gorm:"type:date"`
	StorageLayer     catalog.StorageLayer `gorm:"type:varchar(16);not null;default:'raw'"`
	QualityScore     *decimal.Decimal     `gorm:"type:decimal(5,2)"`
	Status           catalog.FileStatus   `gorm:"type:varchar(20);not null;default:'pending';index"`
	ValidationErrors string               `gorm:"type:jsonb;default:'[]'"`
	ErrorMessage     string               `gorm:"type:text"`
	MetaFilePath     string               `gorm:"type:text"`
	FirstSeenAt      time.Time            `gorm:"not null"`
	LastProcessedAt  *time.Time
}

// TableName returns the table name for GORM
func (CatalogFileModel) TableName() string {
	return "catalog_files"
}

// ToDomain converts the persistence model to a domain CatalogFile.
func (m *CatalogFileModel) ToDomain() *catalog.CatalogFile {
	f := &catalog.CatalogFile{
		BaseAggregateRoot: m.Aggregate(),
		FilePath:          m.FilePath,
		FileName:          m.FileName,
		Source:            m.Source,
		FileSize:          m.FileSize,
		FileHash:          m.FileHash,
		Platform:          m.PlatformCode,
		Account:           m.Account,
		ShopID:            m.ShopID,
		DataDomain:        m.DataDomain,
		SubDomain:         m.SubDomain,
		Granularity:       m.Granularity,
		DateFrom:          m.DateFrom,
		DateTo:            m.DateTo,
		StorageLayer:      m.StorageLayer,
		Status:            m.Status,
		ErrorMessage:      m.ErrorMessage,
		MetaFilePath:      m.MetaFilePath,
		FirstSeenAt:       m.FirstSeenAt,
		LastProcessedAt:   m.LastProcessedAt,
	}
	if m.QualityScore != nil {
		score := m.QualityScore.InexactFloat64()
		f.QualityScore = &score
	}
	_ = f.SetValidationErrorsFromJSON(m.ValidationErrors)
	return f
}

// FromDomain populates the persistence model from a domain CatalogFile.
func (m *CatalogFileModel) FromDomain(f *catalog.CatalogFile) error {
	m.SetAggregate(f.BaseAggregateRoot)
	m.FilePath = f.FilePath
	m.FileName = f.FileName
	m.Source = f.Source
	m.FileSize = f.FileSize
	m.FileHash = f.FileHash
	m.PlatformCode = f.Platform
	m.Account = f.Account
	m.ShopID = f.ShopID
	m.DataDomain = f.DataDomain
	m.SubDomain = f.SubDomain
	m.Granularity = f.Granularity
	m.DateFrom = f.DateFrom
	m.DateTo = f.DateTo
	m.StorageLayer = f.StorageLayer
	m.Status = f.Status
	m.ErrorMessage = f.ErrorMessage
	m.MetaFilePath = f.MetaFilePath
	m.FirstSeenAt = f.FirstSeenAt
	m.LastProcessedAt = f.LastProcessedAt

	m.QualityScore = nil
	if f.QualityScore != nil {
		score := decimal.NewFromFloat(*f.QualityScore).Round(2)
		m.QualityScore = &score
	}

	issues, err := f.ValidationErrorsJSON()
	if err != nil {
		return err
	}
	m.ValidationErrors = issues
	return nil
}

// CatalogFileModelFromDomain creates a new persistence model from a domain CatalogFile.
func CatalogFileModelFromDomain(f *catalog.CatalogFile) (*CatalogFileModel, error) {
	m := &CatalogFileModel{}
	if err := m.FromDomain(f); err != nil {
		return nil, err
	}
	return m, nil
}
