package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pybuild/pybuild/pkg/builder"
	"github.com/pybuild/pybuild/pkg/console"
	"github.com/pybuild/pybuild/pkg/metadata"
	"github.com/pybuild/pybuild/pkg/pyenv"
)

// WheelMetadata returns a project's wheel metadata without keeping any
// artifact around, using the fast metadata hook when the backend has one
// and a full wheel build otherwise.
func WheelMetadata(ctx context.Context, srcDir string, isolated bool, con *console.Console) (_ *metadata.Distribution, err error) {
	tmpDir, err := os.MkdirTemp("", "pybuild-metadata-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	var b *builder.ProjectBuilder
	if isolated {
		env := pyenv.New(con)
		if err := env.Create(ctx); err != nil {
			return nil, err
		}
		defer func() {
			if cerr := env.Close(); err == nil {
				err = cerr
			}
		}()

		if b, err = builder.FromIsolatedEnv(env, srcDir, con, nil); err != nil {
			return nil, err
		}
		if err := env.Install(ctx, b.BuildSystemRequires()); err != nil {
			return nil, err
		}
		extra, err := b.GetRequiresForBuild(ctx, builder.Wheel, nil)
		if err != nil {
			return nil, err
		}
		if err := env.Install(ctx, extra); err != nil {
			return nil, err
		}
	} else {
		if b, err = builder.New(ctx, srcDir, con, nil); err != nil {
			return nil, err
		}
	}

	distInfo, err := b.MetadataPath(ctx, tmpDir, nil)
	if err != nil {
		return nil, err
	}
	dist, err := metadata.Lookup([]string{filepath.Dir(distInfo)}, distInfoPackage(distInfo))
	if err != nil {
		return nil, err
	}
	return dist, nil
}

func distInfoPackage(distInfo string) string {
	base := strings.TrimSuffix(filepath.Base(distInfo), ".dist-info")
	if i := strings.LastIndexByte(base, '-'); i >= 0 {
		return base[:i]
	}
	return base
}
