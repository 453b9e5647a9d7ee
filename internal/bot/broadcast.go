package bot

import (
	"context"
	"time"

	"timerbot/internal/notifier"
	"timerbot/internal/profile"
	"timerbot/internal/stats"
)

// StartupNotices builds the "back online" message for every opted-in user.
func (b *Bot) StartupNotices(ctx context.Context) ([]notifier.Item, error) {
	var items []notifier.Item
	err := b.profiles.Each(ctx, func(p profile.Profile) error {
		if p.StartupNotice {
			items = append(items, notifier.Item{Delivery: notifier.Delivery{
				UserID:    p.UserID,
				Text:      StartupText,
				ParseMode: parseMarkdown,
			}})
		}
		return nil
	})
	return items, err
}

// DailyDigests builds the personal usage digest for users who asked for it.
func (b *Bot) DailyDigests(ctx context.Context, at time.Time) ([]notifier.Item, error) {
	var items []notifier.Item
	err := b.profiles.Each(ctx, func(p profile.Profile) error {
		if p.DailyDigest {
			items = append(items, notifier.Item{Delivery: notifier.Delivery{
				UserID:    p.UserID,
				Text:      stats.DailyDigest(b.reg, p, at),
				ParseMode: parseMarkdown,
			}})
		}
		return nil
	})
	return items, err
}
