package licensetest

import (
	"context"
	"sort"
	"time"

	"github.com/stretchr/testify/suite"

	apperrors "licensesrv/internal/errors"
	"licensesrv/internal/license"
)

// CreatedAt is the timestamp used by SampleRecords.
var CreatedAt = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

// SampleRecords returns three records with distinct fingerprints, covering
// a disabled license, an unknown status and a corrupt expiry.
func SampleRecords() []license.Record {
	return []license.Record{
		{
			DeviceID:     "4210EF496F68665F",
			LicenseKey:   "EYJK-IJOI-NDIX-MEVG-NDKI",
			ExpiryDate:   "2030-01-01T00:00:00Z",
			Status:       license.StatusActive,
			CustomerName: "Acme Studio",
			Notes:        "annual",
			CreatedAt:    CreatedAt,
		},
		{
			DeviceID:     "DEADBEEF00112233",
			LicenseKey:   "EYJK-IJOI-REVB-REJF-RUYI",
			ExpiryDate:   "2023-06-15T12:00:00",
			Status:       license.StatusDisabled,
			CustomerName: "",
			Notes:        "",
			CreatedAt:    CreatedAt.Add(time.Minute),
		},
		{
			DeviceID:     "ABC",
			LicenseKey:   "manual-key",
			ExpiryDate:   "not a date",
			Status:       license.Status("suspended"),
			CustomerName: "Short Id",
			Notes:        "corrupt expiry",
			CreatedAt:    CreatedAt.Add(2 * time.Minute),
		},
	}
}

// BackendSuite is the behaviour every license.Backend must share. Embed it
// and set NewBackend to a constructor returning an empty backend.
type BackendSuite struct {
	suite.Suite

	NewBackend func() license.Backend

	ctx     context.Context
	backend license.Backend
}

func (s *BackendSuite) SetupTest() {
	s.ctx = context.Background()
	s.backend = s.NewBackend()
}

func (s *BackendSuite) TearDownTest() {
	if s.backend != nil {
		s.NoError(s.backend.Close())
	}
}

// Backend returns the backend under test.
func (s *BackendSuite) Backend() license.Backend {
	return s.backend
}

func (s *BackendSuite) insertSamples() []license.Record {
	recs := SampleRecords()
	for _, r := range recs {
		s.Require().NoError(s.backend.Insert(s.ctx, r))
	}
	return recs
}

// AssertSameRecord compares records, treating CreatedAt by instant.
func AssertSameRecord(s *suite.Suite, want, got license.Record) {
	s.True(want.CreatedAt.Equal(got.CreatedAt), "created_at: want %s got %s", want.CreatedAt, got.CreatedAt)
	want.CreatedAt, got.CreatedAt = time.Time{}, time.Time{}
	s.Equal(want, got)
}

func (s *BackendSuite) TestPing() {
	s.NoError(s.backend.Ping(s.ctx))
}

func (s *BackendSuite) TestFindUnknown() {
	_, err := s.backend.Find(s.ctx, "NOPE0000")
	s.ErrorIs(err, apperrors.ErrNotFound)
}

func (s *BackendSuite) TestInsertThenFindByFingerprint() {
	recs := s.insertSamples()

	for _, want := range recs {
		got, err := s.backend.Find(s.ctx, want.Fingerprint())
		s.Require().NoError(err)
		AssertSameRecord(&s.Suite, want, got)
	}
}

func (s *BackendSuite) TestListReturnsEveryRecord() {
	recs := s.insertSamples()

	got, err := s.backend.List(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(got, len(recs))

	byFP := func(rs []license.Record) []license.Record {
		out := append([]license.Record(nil), rs...)
		sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint() < out[j].Fingerprint() })
		return out
	}
	want := byFP(recs)
	got = byFP(got)
	for i := range want {
		AssertSameRecord(&s.Suite, want[i], got[i])
	}
}

func (s *BackendSuite) TestListEmpty() {
	got, err := s.backend.List(s.ctx)
	s.Require().NoError(err)
	s.Empty(got)
}

func (s *BackendSuite) TestUpdateTouchesOnlySetFields() {
	recs := s.insertSamples()
	target := recs[0]

	err := s.backend.Update(s.ctx, target.Fingerprint(), license.RecordUpdate{
		Status: license.Some(license.StatusDisabled),
		Notes:  license.Some(""),
	})
	s.Require().NoError(err)

	got, err := s.backend.Find(s.ctx, target.Fingerprint())
	s.Require().NoError(err)
	target.Status = license.StatusDisabled
	target.Notes = ""
	AssertSameRecord(&s.Suite, target, got)

	other, err := s.backend.Find(s.ctx, recs[1].Fingerprint())
	s.Require().NoError(err)
	AssertSameRecord(&s.Suite, recs[1], other)
}

func (s *BackendSuite) TestUpdateKeyAndExpiryTogether() {
	recs := s.insertSamples()

	err := s.backend.Update(s.ctx, recs[2].Fingerprint(), license.RecordUpdate{
		LicenseKey: license.Some("NEWK-EYNE-WKEY-NEWK-EYNE"),
		ExpiryDate: license.Some("2031-02-03T04:05:06Z"),
	})
	s.Require().NoError(err)

	got, err := s.backend.Find(s.ctx, recs[2].Fingerprint())
	s.Require().NoError(err)
	s.Equal("NEWK-EYNE-WKEY-NEWK-EYNE", got.LicenseKey)
	s.Equal("2031-02-03T04:05:06Z", got.ExpiryDate)
	s.Equal(recs[2].CustomerName, got.CustomerName)
}

func (s *BackendSuite) TestUpdateUnknown() {
	err := s.backend.Update(s.ctx, "NOPE0000", license.RecordUpdate{Notes: license.Some("x")})
	s.ErrorIs(err, apperrors.ErrNotFound)
}

func (s *BackendSuite) TestDelete() {
	recs := s.insertSamples()

	s.Require().NoError(s.backend.Delete(s.ctx, recs[1].Fingerprint()))

	_, err := s.backend.Find(s.ctx, recs[1].Fingerprint())
	s.ErrorIs(err, apperrors.ErrNotFound)

	got, err := s.backend.List(s.ctx)
	s.Require().NoError(err)
	s.Len(got, 2)
}

func (s *BackendSuite) TestDeleteUnknown() {
	s.ErrorIs(s.backend.Delete(s.ctx, "NOPE0000"), apperrors.ErrNotFound)
}

func (s *BackendSuite) TestStoreCreateTwiceFails() {
	store := license.NewStore(s.backend, nil)
	rec := SampleRecords()[0]

	_, err := store.Create(s.ctx, rec)
	s.Require().NoError(err)

	rec.DeviceID = "4210ef49-another-device"
	_, err = store.Create(s.ctx, rec)
	s.ErrorIs(err, apperrors.ErrAlreadyExists)
}
