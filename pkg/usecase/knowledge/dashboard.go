package knowledge

import (
	"context"

	"github.com/m-mizutani/nutmeg/pkg/model"
	"golang.org/x/sync/errgroup"
)

// Dashboard reads the recent memories and tag statistics of an account concurrently
func (u *UseCase) Dashboard(ctx context.Context, accountID model.AccountID, limit int) (*model.Dashboard, error) {
	var dashboard model.Dashboard

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		rows, err := u.Recent(ctx, accountID, limit)
		if err != nil {
			return err
		}
		dashboard.Recent = rows
		return nil
	})
	eg.Go(func() error {
		tags, err := u.Tags(ctx, accountID, limit)
		if err != nil {
			return err
		}
		dashboard.Tags = tags
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return &dashboard, nil
}
