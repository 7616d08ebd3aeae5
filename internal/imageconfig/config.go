// Package imageconfig derives the output image's OCI config from the
// source image's inspect JSON, passed in via CHUNKAH_CONFIG_STR.
package imageconfig

import (
	"encoding/json"
	"fmt"

	"github.com/containerd/errdefs"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// inspectDoc is the shape of the JSON a `docker inspect`/`skopeo
// inspect --config` style tool produces for a single image: the subset
// this engine carries forward (env, entrypoint, cmd, user, working
// dir, labels, exposed ports, volumes) plus platform.
type inspectDoc struct {
	Architecture string `json:"Architecture"`
	Os           string `json:"Os"`
	Config       struct {
		Env          []string            `json:"Env"`
		Entrypoint   []string            `json:"Entrypoint"`
		Cmd          []string            `json:"Cmd"`
		User         string              `json:"User"`
		WorkingDir   string              `json:"WorkingDir"`
		Labels       map[string]string   `json:"Labels"`
		ExposedPorts map[string]struct{} `json:"ExposedPorts"`
		Volumes      map[string]struct{} `json:"Volumes"`
	} `json:"Config"`
}

// Parse decodes raw (the value of CHUNKAH_CONFIG_STR) into an
// ocispec.Image skeleton. RootFS and History are left zero-valued for
// the assembler to overwrite once layer digests are known. An empty or
// unparsable raw is a Config error.
func Parse(raw string) (ocispec.Image, error) {
	if raw == "" {
		return ocispec.Image{}, fmt.Errorf("%w: CHUNKAH_CONFIG_STR is required", errdefs.ErrInvalidArgument)
	}

	var doc inspectDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return ocispec.Image{}, fmt.Errorf("%w: parse CHUNKAH_CONFIG_STR: %v", errdefs.ErrInvalidArgument, err)
	}

	img := ocispec.Image{
		Platform: ocispec.Platform{
			Architecture: orDefault(doc.Architecture, "amd64"),
			OS:           orDefault(doc.Os, "linux"),
		},
		Config: ocispec.ImageConfig{
			Env:          doc.Config.Env,
			Entrypoint:   doc.Config.Entrypoint,
			Cmd:          doc.Config.Cmd,
			User:         doc.Config.User,
			WorkingDir:   doc.Config.WorkingDir,
			Labels:       doc.Config.Labels,
			ExposedPorts: convertPortSet(doc.Config.ExposedPorts),
			Volumes:      doc.Config.Volumes,
		},
	}
	return img, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func convertPortSet(in map[string]struct{}) map[string]struct{} {
	if in == nil {
		return nil
	}
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}
