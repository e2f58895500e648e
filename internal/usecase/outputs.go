package usecase

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/styleshot/internal/domain"
	"github.com/yokitheyo/styleshot/internal/infrastructure/storage"
)

// storeOutputs writes each platform image as "<request>/<platform>.<ext>" and returns the paths.
// A partial write is rolled back.
func storeOutputs(ctx context.Context, store storage.Storage, res *domain.TransformationResult) (map[string]string, error) {
	platforms := make([]string, 0, len(res.Outputs))
	for p := range res.Outputs {
		platforms = append(platforms, p)
	}
	sort.Strings(platforms)

	if bad := domain.InvalidPlatformIDs(platforms); len(bad) > 0 {
		return nil, domain.NewValidationError(fmt.Sprintf("invalid platform ids %q", bad))
	}

	paths := make(map[string]string, len(platforms))
	for _, platform := range platforms {
		out := res.Outputs[platform]
		name := fmt.Sprintf("%s/%s%s", res.RequestID, platform, extension(out.Image.Format))

		path, err := store.SaveOutput(ctx, name, bytes.NewReader(out.Image.Data))
		if err != nil {
			zlog.Logger.Error().
				Err(err).
				Str("request_id", res.RequestID).
				Str("platform", platform).
				Msg("failed to save output")
			for _, saved := range paths {
				_ = store.Delete(ctx, saved)
			}
			return nil, fmt.Errorf("%w: save output %s: %v", domain.ErrStorageFailed, platform, err)
		}
		paths[platform] = path
	}
	return paths, nil
}

func extension(format string) string {
	switch format {
	case "png":
		return ".png"
	case "gif":
		return ".gif"
	default:
		return ".jpg"
	}
}
