package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"mimic-export/constant"
	"mimic-export/dto"
	"mimic-export/entities"
	"mimic-export/pkg/apperror"
	"mimic-export/repository"
)

var soloSettings = dto.ExportSettings{
	Type:    constant.ExportTypeSolo,
	Format:  constant.ExportFormatMP4,
	Quality: constant.ExportQuality720p,
	Fps:     30,
}

func chunkPaths(chunks []*entities.RecordingChunk) []string {
	paths := make([]string, 0, len(chunks))
	for _, c := range chunks {
		paths = append(paths, c.Filepath)
	}
	return paths
}

func TestSoloExportUsesChunkOrder(t *testing.T) {
	f := newFixture(t)
	session := f.createSession(t)
	chunks := f.appendChunks(t, session.ID, 1, 2, 1.5)

	export, err := f.svc.Exports.ExportSession(context.Background(), session.ID, soloSettings)
	if err != nil {
		t.Fatalf("ExportSession: %v", err)
	}

	calls := f.encoder.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected one encoder call, got %d", len(calls))
	}
	if got, want := strings.Join(calls[0].inputs, ","), strings.Join(chunkPaths(chunks), ","); got != want {
		t.Fatalf("expected inputs %s, got %s", want, got)
	}
	if calls[0].opts.Format != constant.ExportFormatMP4 || calls[0].opts.FPS != 30 || calls[0].opts.Quality != constant.ExportQuality720p {
		t.Fatalf("unexpected encoder options %+v", calls[0].opts)
	}

	prefix := fmt.Sprintf("/data/exports/export_%s_solo_", session.ID)
	if !strings.HasPrefix(export.Filepath, prefix) || !strings.HasSuffix(export.Filepath, ".mp4") {
		t.Fatalf("unexpected export path %s", export.Filepath)
	}
	if export.Type != constant.ExportTypeSolo || export.Filesize != int64(len("rendered export")) {
		t.Fatalf("unexpected export row %+v", export)
	}

	got := f.session(t, session.ID)
	if got.Status != constant.SessionStatusExported || got.ExportedAt == nil {
		t.Fatalf("expected exported session with exportedAt, got %+v", got)
	}

	exports, err := f.svc.Exports.ListExports(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("ListExports: %v", err)
	}
	if len(exports) != 1 || exports[0].ID != export.ID {
		t.Fatalf("expected the single export listed, got %v", exports)
	}
}

func TestComparisonExportPrependsReferenceVideo(t *testing.T) {
	f := newFixture(t)
	session := f.createSession(t)
	chunks := f.appendChunks(t, session.ID, 1, 2, 1.5)

	settings := soloSettings
	settings.Type = constant.ExportTypeComparison
	export, err := f.svc.Exports.ExportSession(context.Background(), session.ID, settings)
	if err != nil {
		t.Fatalf("ExportSession: %v", err)
	}

	want := append([]string{"/data/videos/reference.mp4"}, chunkPaths(chunks)...)
	calls := f.encoder.Calls()
	if got := strings.Join(calls[0].inputs, ","); got != strings.Join(want, ",") {
		t.Fatalf("expected plan %v, got %v", want, calls[0].inputs)
	}
	if export.Type != constant.ExportTypeComparison {
		t.Fatalf("expected comparison export, got %s", export.Type)
	}
}

func TestComparisonExportWithoutVideoFailsBeforeEncoding(t *testing.T) {
	f := newFixture(t)
	session := f.createSession(t)
	f.appendChunks(t, session.ID, 1)
	if err := f.repo.GetDB().Delete(&entities.Video{}, "id = ?", session.VideoId).Error; err != nil {
		t.Fatalf("delete video: %v", err)
	}

	settings := soloSettings
	settings.Type = constant.ExportTypeComparison
	_, err := f.svc.Exports.ExportSession(context.Background(), session.ID, settings)
	assertCode(t, err, apperror.CodeNotFound)

	if calls := f.encoder.Calls(); len(calls) != 0 {
		t.Fatalf("expected encoder not to run, got %d calls", len(calls))
	}
	if got := f.session(t, session.ID); got.Status != constant.SessionStatusActive {
		t.Fatalf("expected status rolled back to active, got %s", got.Status)
	}
}

func TestExportRollsBackOnEncoderFailure(t *testing.T) {
	f := newFixture(t)
	session := f.createSession(t)
	f.appendChunks(t, session.ID, 1, 2)
	f.encoder.err = errors.New("ffmpeg exited with status 1")

	_, err := f.svc.Exports.ExportSession(context.Background(), session.ID, soloSettings)
	assertCode(t, err, apperror.CodeEncodeFailure)
	if !strings.Contains(err.Error(), "ffmpeg exited with status 1") {
		t.Fatalf("expected encoder cause to surface, got %v", err)
	}

	got := f.session(t, session.ID)
	if got.Status != constant.SessionStatusActive || got.ExportedAt != nil {
		t.Fatalf("expected active session without exportedAt, got %+v", got)
	}
	exports, err := f.svc.Exports.ListExports(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("ListExports: %v", err)
	}
	if len(exports) != 0 {
		t.Fatalf("expected no export rows, got %d", len(exports))
	}
}

func TestExportTimeoutIsEncodeFailure(t *testing.T) {
	f := newFixtureWithOptions(t, Options{
		RecordingsDir: "/data/recordings",
		ExportsDir:    "/data/exports",
		EncodeTimeout: 50 * time.Millisecond,
	})
	session := f.createSession(t)
	f.appendChunks(t, session.ID, 1)
	f.encoder.release = make(chan struct{})

	_, err := f.svc.Exports.ExportSession(context.Background(), session.ID, soloSettings)
	assertCode(t, err, apperror.CodeEncodeFailure)
	var appErr *apperror.Error
	if !errors.As(err, &appErr) || appErr.Reason != "ENCODE_TIMEOUT" {
		t.Fatalf("expected ENCODE_TIMEOUT, got %v", err)
	}
	if got := f.session(t, session.ID); got.Status != constant.SessionStatusActive {
		t.Fatalf("expected active after timeout, got %s", got.Status)
	}
}

func TestExportCancelledCallerStillRollsBack(t *testing.T) {
	f := newFixture(t)
	session := f.createSession(t)
	f.appendChunks(t, session.ID, 1)
	f.encoder.started = make(chan struct{}, 1)
	f.encoder.release = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Exports.ExportSession(ctx, session.ID, soloSettings)
		done <- err
	}()
	<-f.encoder.started
	cancel()

	assertCode(t, <-done, apperror.CodeEncodeFailure)
	if got := f.session(t, session.ID); got.Status != constant.SessionStatusActive {
		t.Fatalf("expected active after cancellation, got %s", got.Status)
	}
}

func TestExportIsSingleFlightPerSession(t *testing.T) {
	f := newFixture(t)
	session := f.createSession(t)
	other := f.createSession(t)
	f.appendChunks(t, session.ID, 1)
	f.appendChunks(t, other.ID, 1)
	f.encoder.started = make(chan struct{}, 2)
	f.encoder.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Exports.ExportSession(context.Background(), session.ID, soloSettings)
		done <- err
	}()
	<-f.encoder.started

	if got := f.session(t, session.ID); got.Status != constant.SessionStatusExporting {
		t.Fatalf("expected exporting while encoding, got %s", got.Status)
	}
	_, err := f.svc.Exports.ExportSession(context.Background(), session.ID, soloSettings)
	assertCode(t, err, apperror.CodeConflict)

	otherDone := make(chan error, 1)
	go func() {
		_, err := f.svc.Exports.ExportSession(context.Background(), other.ID, soloSettings)
		otherDone <- err
	}()
	<-f.encoder.started

	close(f.encoder.release)
	if err := <-done; err != nil {
		t.Fatalf("first export: %v", err)
	}
	if err := <-otherDone; err != nil {
		t.Fatalf("other session export: %v", err)
	}
	if calls := f.encoder.Calls(); len(calls) != 2 {
		t.Fatalf("expected two encoder runs, got %d", len(calls))
	}
}

func TestExportPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.createSession(t)

	_, err := f.svc.Exports.ExportSession(ctx, uuid.New(), soloSettings)
	assertCode(t, err, apperror.CodeNotFound)

	_, err = f.svc.Exports.ExportSession(ctx, session.ID, soloSettings)
	assertCode(t, err, apperror.CodeNoRecordings)
	if got := f.session(t, session.ID); got.Status != constant.SessionStatusActive {
		t.Fatalf("expected untouched status, got %s", got.Status)
	}

	f.appendChunks(t, session.ID, 1)
	if _, err := f.svc.Sessions.Archive(ctx, session.ID); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	_, err = f.svc.Exports.ExportSession(ctx, session.ID, soloSettings)
	assertCode(t, err, apperror.CodeConflict)
	if calls := f.encoder.Calls(); len(calls) != 0 {
		t.Fatalf("expected no encoder runs, got %d", len(calls))
	}
}

func TestNormalizeSettings(t *testing.T) {
	got, err := NormalizeSettings(dto.ExportSettings{})
	if err != nil {
		t.Fatalf("NormalizeSettings: %v", err)
	}
	if got != soloSettings {
		t.Fatalf("expected defaults %+v, got %+v", soloSettings, got)
	}

	tests := []struct {
		name     string
		settings dto.ExportSettings
	}{
		{name: "type", settings: dto.ExportSettings{Type: "split"}},
		{name: "format", settings: dto.ExportSettings{Format: "avi"}},
		{name: "quality", settings: dto.ExportSettings{Quality: "4k"}},
		{name: "fps", settings: dto.ExportSettings{Fps: 25}},
		{name: "negative fps", settings: dto.ExportSettings{Fps: -30}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeSettings(tt.settings)
			assertCode(t, err, apperror.CodeInvalidInput)
		})
	}
}

func TestSequentialExportsGetDistinctFiles(t *testing.T) {
	f := newFixture(t)
	session := f.createSession(t)
	f.appendChunks(t, session.ID, 1)
	ctx := context.Background()

	first, err := f.svc.Exports.ExportSession(ctx, session.ID, soloSettings)
	if err != nil {
		t.Fatalf("first export: %v", err)
	}
	second, err := f.svc.Exports.ExportSession(ctx, session.ID, soloSettings)
	if err != nil {
		t.Fatalf("re-export from exported state: %v", err)
	}
	if first.Filepath == second.Filepath {
		t.Fatalf("expected distinct export paths, both %s", first.Filepath)
	}
	for _, path := range []string{first.Filepath, second.Filepath} {
		if ok, _ := afero.Exists(f.fs, path); !ok {
			t.Fatalf("expected %s on disk", path)
		}
	}
}

func TestExportReadsAndDownloads(t *testing.T) {
	f := newFixture(t)
	session := f.createSession(t)
	f.appendChunks(t, session.ID, 1)
	ctx := context.Background()

	export, err := f.svc.Exports.ExportSession(ctx, session.ID, soloSettings)
	if err != nil {
		t.Fatalf("ExportSession: %v", err)
	}
	if export.DownloadedAt != nil {
		t.Fatal("expected downloadedAt unset on a fresh export")
	}

	status, err := f.svc.Exports.GetExportStatus(ctx, export.ID)
	if err != nil {
		t.Fatalf("GetExportStatus: %v", err)
	}
	if status.ExportId != export.ID || status.Status != constant.ExportJobStatusCompleted || status.Progress != 100 {
		t.Fatalf("unexpected status %+v", status)
	}

	first, err := f.svc.Exports.MarkDownloaded(ctx, export.ID)
	if err != nil {
		t.Fatalf("MarkDownloaded: %v", err)
	}
	if first.DownloadedAt == nil {
		t.Fatal("expected downloadedAt set")
	}
	time.Sleep(2 * time.Millisecond)
	second, err := f.svc.Exports.MarkDownloaded(ctx, export.ID)
	if err != nil {
		t.Fatalf("MarkDownloaded again: %v", err)
	}
	if !second.DownloadedAt.After(*first.DownloadedAt) {
		t.Fatalf("expected repeat call to overwrite timestamp: %v then %v", first.DownloadedAt, second.DownloadedAt)
	}

	missing := uuid.New()
	_, err = f.svc.Exports.GetExport(ctx, missing)
	assertCode(t, err, apperror.CodeNotFound)
	_, err = f.svc.Exports.MarkDownloaded(ctx, missing)
	assertCode(t, err, apperror.CodeNotFound)
	_, err = f.svc.Exports.GetExportStatus(ctx, missing)
	assertCode(t, err, apperror.CodeNotFound)
	_, err = f.svc.Exports.ListExports(ctx, missing)
	assertCode(t, err, apperror.CodeNotFound)
}

func TestDeleteExport(t *testing.T) {
	f := newFixture(t)
	session := f.createSession(t)
	f.appendChunks(t, session.ID, 1)
	ctx := context.Background()

	kept, err := f.svc.Exports.ExportSession(ctx, session.ID, soloSettings)
	if err != nil {
		t.Fatalf("ExportSession: %v", err)
	}
	gone, err := f.svc.Exports.ExportSession(ctx, session.ID, soloSettings)
	if err != nil {
		t.Fatalf("ExportSession: %v", err)
	}
	if err := f.fs.Remove(gone.Filepath); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if err := f.svc.Exports.DeleteExport(ctx, gone.ID); err != nil {
		t.Fatalf("expected missing file to be non-fatal, got %v", err)
	}
	if err := f.svc.Exports.DeleteExport(ctx, kept.ID); err != nil {
		t.Fatalf("DeleteExport: %v", err)
	}
	if ok, _ := afero.Exists(f.fs, kept.Filepath); ok {
		t.Fatal("expected export file removed")
	}
	assertCode(t, f.svc.Exports.DeleteExport(ctx, kept.ID), apperror.CodeNotFound)

	if got := f.session(t, session.ID); got.Status != constant.SessionStatusExported {
		t.Fatalf("expected session status untouched by export deletion, got %s", got.Status)
	}
}

func TestExportPublishing(t *testing.T) {
	storeErr := errors.New("database is locked")
	tests := []struct {
		name            string
		publishErr      error
		createExportErr error
		exportedErr     error
		wantCode        apperror.Code
		wantKey         bool
	}{
		{name: "published", wantKey: true},
		{name: "publish failure keeps local copy", publishErr: errors.New("bucket unreachable")},
		{name: "save failure unpublishes", createExportErr: storeErr, wantCode: apperror.CodeStorageFailure},
		{name: "status failure after save rolls back", exportedErr: storeErr, wantCode: apperror.CodeStorageFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			pub := newFakePublisher()
			pub.publishErr = tt.publishErr
			f := newFixture(t).withPublisher(pub, func(repo repository.Repository) repository.Repository {
				return &faultyRepo{Repository: repo, createExportErr: tt.createExportErr, exportedErr: tt.exportedErr}
			})
			session := f.createSession(t)
			f.appendChunks(t, session.ID, 1, 2)

			export, err := f.svc.Exports.ExportSession(ctx, session.ID, soloSettings)
			calls := f.encoder.Calls()
			if len(calls) != 1 {
				t.Fatalf("expected one encoder call, got %d", len(calls))
			}
			output := calls[0].output

			if tt.wantCode != "" {
				assertCode(t, err, tt.wantCode)
				if keys := pub.Keys(); len(keys) != 0 {
					t.Fatalf("expected no published objects after rollback, got %v", keys)
				}
				if ok, _ := afero.Exists(f.fs, output); ok {
					t.Fatalf("expected output %s removed", output)
				}
				rows, err := f.repo.GetExportsBySessionId(ctx, session.ID)
				if err != nil {
					t.Fatalf("GetExportsBySessionId: %v", err)
				}
				if len(rows) != 0 {
					t.Fatalf("expected no export rows, got %d", len(rows))
				}
				if got := f.session(t, session.ID); got.Status != constant.SessionStatusActive {
					t.Fatalf("expected session back to active, got %s", got.Status)
				}
				return
			}

			if err != nil {
				t.Fatalf("ExportSession: %v", err)
			}
			if ok, _ := afero.Exists(f.fs, export.Filepath); !ok {
				t.Fatal("expected local export file kept")
			}
			keys := pub.Keys()
			if !tt.wantKey {
				if export.ObjectKey != "" || len(keys) != 0 {
					t.Fatalf("expected unpublished export, got key %q and objects %v", export.ObjectKey, keys)
				}
				return
			}
			wantKey := fmt.Sprintf("exports/%s/%s", session.ID, filepath.Base(output))
			if export.ObjectKey != wantKey || len(keys) != 1 || keys[0] != wantKey {
				t.Fatalf("expected object %s, got key %q and objects %v", wantKey, export.ObjectKey, keys)
			}
		})
	}
}

func TestDeleteExportRemovesPublishedObject(t *testing.T) {
	ctx := context.Background()
	pub := newFakePublisher()
	f := newFixture(t).withPublisher(pub, nil)
	session := f.createSession(t)
	f.appendChunks(t, session.ID, 1)

	export, err := f.svc.Exports.ExportSession(ctx, session.ID, soloSettings)
	if err != nil {
		t.Fatalf("ExportSession: %v", err)
	}
	if export.ObjectKey == "" {
		t.Fatal("expected export to be published")
	}

	if err := f.svc.Exports.DeleteExport(ctx, export.ID); err != nil {
		t.Fatalf("DeleteExport: %v", err)
	}
	if keys := pub.Keys(); len(keys) != 0 {
		t.Fatalf("expected published object removed, got %v", keys)
	}
}
