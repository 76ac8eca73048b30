package pipeline

import (
	"context"
	"testing"

	"github.com/clipcast-hq/clipcast-pipeline/internal/domain"
	"github.com/clipcast-hq/clipcast-pipeline/pkg/channels"
)

type stubAcquirer struct {
	artifact string
	err      error
}

func (s *stubAcquirer) Acquire(context.Context, domain.Candidate) (string, error) {
	return s.artifact, s.err
}

type stubTransformer struct {
	out string
	err error
}

func (s *stubTransformer) Transform(context.Context, string, channels.TransformConfig) (string, error) {
	return s.out, s.err
}

type stubPublisher struct {
	externalID string
	artifact   string
	err        error
}

func (s *stubPublisher) Publish(_ context.Context, artifact string, _ channels.Channel) (string, error) {
	s.artifact = artifact
	return s.externalID, s.err
}

func transformChannel() channels.Channel {
	return channels.Channel{ID: "ch", Transform: &channels.TransformConfig{Preset: "vertical-916"}}
}

func TestRunAcquireRecordsSourceArtifact(t *testing.T) {
	e := NewExecutor(&stubAcquirer{artifact: "/a/src.mp4"}, nil, nil)

	res, err := e.Run(context.Background(), domain.ActivityAcquire, &domain.Job{}, channels.Channel{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Artifacts[domain.ArtifactSource] != "/a/src.mp4" {
		t.Fatalf("unexpected artifacts %+v", res.Artifacts)
	}
}

func TestRunTransformRequiresSourceArtifact(t *testing.T) {
	e := NewExecutor(nil, &stubTransformer{out: "/a/out.mp4"}, nil)

	_, err := e.Run(context.Background(), domain.ActivityTransform, &domain.Job{ID: "j1"}, transformChannel())
	if err == nil {
		t.Fatalf("expected error without source artifact")
	}

	job := &domain.Job{Artifacts: map[string]string{domain.ArtifactSource: "/a/src.mp4"}}
	res, err := e.Run(context.Background(), domain.ActivityTransform, job, transformChannel())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Artifacts[domain.ArtifactTransformed] != "/a/out.mp4" {
		t.Fatalf("unexpected artifacts %+v", res.Artifacts)
	}
}

func TestRunPublishPrefersTransformedArtifact(t *testing.T) {
	pub := &stubPublisher{externalID: "ext-1"}
	e := NewExecutor(nil, nil, pub)

	job := &domain.Job{Artifacts: map[string]string{
		domain.ArtifactSource:      "/a/src.mp4",
		domain.ArtifactTransformed: "/a/out.mp4",
	}}
	res, err := e.Run(context.Background(), domain.ActivityPublish, job, channels.Channel{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExternalVideoID != "ext-1" {
		t.Fatalf("expected external id, got %q", res.ExternalVideoID)
	}
	if pub.artifact != "/a/out.mp4" {
		t.Fatalf("expected transformed artifact, published %q", pub.artifact)
	}
}

func TestRunPublishFallsBackToSource(t *testing.T) {
	pub := &stubPublisher{externalID: "ext-2"}
	e := NewExecutor(nil, nil, pub)

	job := &domain.Job{Artifacts: map[string]string{domain.ArtifactSource: "/a/src.mp4"}}
	if _, err := e.Run(context.Background(), domain.ActivityPublish, job, channels.Channel{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pub.artifact != "/a/src.mp4" {
		t.Fatalf("expected source artifact fallback, published %q", pub.artifact)
	}
}
