package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// LatestVersion resolves to the newest registered version of an environment.
const LatestVersion = "latest"

// EnvironmentDescriptor is a reproducible execution environment. (Name, Version)
// is its identity.
type EnvironmentDescriptor struct {
	Name                   string
	Version                string
	BaseImage              string
	DependencyManifestPath string
	Description            string
	Tags                   map[string]string
}

// EnvironmentIdentity is the record returned by a registration.
type EnvironmentIdentity struct {
	ID           string
	Name         string
	Version      string
	Digest       string
	RegisteredAt time.Time
}

func (e EnvironmentDescriptor) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return errors.New("environment name is required")
	}
	if strings.ContainsAny(e.Name, "@:/ ") {
		return fmt.Errorf("environment name %q must not contain '@', ':', '/' or spaces", e.Name)
	}
	if strings.TrimSpace(e.Version) == "" {
		return fmt.Errorf("environment %q version is required", e.Name)
	}
	if e.Version == LatestVersion {
		return fmt.Errorf("environment %q version %q is reserved", e.Name, LatestVersion)
	}
	if strings.TrimSpace(e.BaseImage) == "" {
		return fmt.Errorf("environment %q base image is required", e.Name)
	}
	return nil
}

func (e EnvironmentDescriptor) Ref() EnvironmentRef {
	return EnvironmentRef{Name: e.Name, Version: e.Version}
}

// Digest hashes the content fields so re-registrations can be compared.
func (e EnvironmentDescriptor) Digest() string {
	return e.DigestWith(nil)
}

// DigestWith is Digest with the bytes of the dependency manifest folded in, so
// an edited conda file under the same path changes the digest.
func (e EnvironmentDescriptor) DigestWith(dependencyManifest []byte) string {
	payload := struct {
		Name                     string            `json:"name"`
		Version                  string            `json:"version"`
		BaseImage                string            `json:"baseImage"`
		DependencyManifestPath   string            `json:"dependencyManifestPath"`
		DependencyManifestSHA256 string            `json:"dependencyManifestSha256,omitempty"`
		Description              string            `json:"description"`
		Tags                     map[string]string `json:"tags"`
	}{
		Name:                   e.Name,
		Version:                e.Version,
		BaseImage:              e.BaseImage,
		DependencyManifestPath: e.DependencyManifestPath,
		Description:            e.Description,
		Tags:                   e.Tags,
	}
	if dependencyManifest != nil {
		sum := sha256.Sum256(dependencyManifest)
		payload.DependencyManifestSHA256 = hex.EncodeToString(sum[:])
	}
	if payload.Tags == nil {
		payload.Tags = map[string]string{}
	}
	// encoding/json sorts map keys, so the encoding is canonical.
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// EnsureEnvironmentImmutable rejects content changes under a fixed identity.
func EnsureEnvironmentImmutable(before, after EnvironmentDescriptor) error {
	if before.Name != after.Name || before.Version != after.Version {
		return fmt.Errorf("environment identity changed from %s to %s", before.Ref(), after.Ref())
	}
	if before.BaseImage != after.BaseImage {
		return errors.New("base image is immutable")
	}
	if before.DependencyManifestPath != after.DependencyManifestPath {
		return errors.New("dependency manifest is immutable")
	}
	if before.Description != after.Description {
		return errors.New("description is immutable")
	}
	if len(before.Tags) != 0 || len(after.Tags) != 0 {
		if !reflect.DeepEqual(before.Tags, after.Tags) {
			return errors.New("tags are immutable")
		}
	}
	return nil
}

// EnvironmentRef points a step at an environment by name and version or label.
type EnvironmentRef struct {
	Name    string
	Version string
}

// ParseEnvironmentRef accepts "name@latest", "name@version" and "name:version".
// A bare name resolves to latest.
func ParseEnvironmentRef(raw string) (EnvironmentRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return EnvironmentRef{}, errors.New("environment reference is empty")
	}
	name, version := raw, LatestVersion
	if i := strings.LastIndex(raw, "@"); i >= 0 {
		name, version = raw[:i], raw[i+1:]
	} else if i := strings.LastIndex(raw, ":"); i >= 0 {
		name, version = raw[:i], raw[i+1:]
	}
	name = strings.TrimSpace(name)
	version = strings.TrimSpace(version)
	if name == "" || version == "" {
		return EnvironmentRef{}, fmt.Errorf("environment reference %q is malformed", raw)
	}
	return EnvironmentRef{Name: name, Version: version}, nil
}

func (r EnvironmentRef) IsZero() bool {
	return r.Name == ""
}

func (r EnvironmentRef) String() string {
	if r.Name == "" {
		return ""
	}
	if r.Version == "" || r.Version == LatestVersion {
		return r.Name + "@" + LatestVersion
	}
	return r.Name + ":" + r.Version
}
