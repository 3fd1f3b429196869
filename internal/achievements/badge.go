package achievements

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/exp/maps"
)

// Badge is one level of an Achievement.
type Badge struct {
	achievement *Achievement
	level       int
	def         BadgeDefinition
}

func (b *Badge) Achievement() *Achievement {
	return b.achievement
}

func (b *Badge) Level() int {
	return b.level
}

// RequiredStats returns a copy of the stat thresholds. An empty result means
// the badge is awarded manually only.
func (b *Badge) RequiredStats() map[string]int64 {
	return maps.Clone(b.def.RequiredStats)
}

func (b *Badge) IsSecret() bool {
	return b.def.Secret
}

func (b *Badge) IsEnabled() bool {
	return b.achievement.Enabled()
}

func (b *Badge) msgKeyPrefix(level int) string {
	return b.achievement.MsgKeyPrefix() + "-" + strconv.Itoa(level)
}

// Name resolves the display name: explicit message key, level message,
// generic message, literal name, then the achievement name with a level
// suffix.
func (b *Badge) Name(msgs Messages) string {
	fallback := b.achievement.Name(msgs)
	if b.achievement.Levels() > 1 {
		fallback = fmt.Sprintf("%s %d", fallback, b.level)
	}
	name := resolve(msgs,
		[]string{b.def.NameMsg, b.msgKeyPrefix(b.level) + "-name", b.msgKeyPrefix(0) + "-name"},
		b.def.Name, fallback)
	return substituteLevel(name, b.level)
}

func (b *Badge) Description(msgs Messages) string {
	desc := resolve(msgs,
		[]string{b.def.DescriptionMsg, b.msgKeyPrefix(b.level) + "-desc", b.msgKeyPrefix(0) + "-desc"},
		b.def.Description, b.achievement.Description(msgs))
	return substituteLevel(desc, b.level)
}

func (b *Badge) Color() string {
	if b.def.Color != "" {
		return b.def.Color
	}
	return b.achievement.Color()
}

// Media returns the configured file for variant ("image", "thumbnail" or
// "icon"), or "" when none is set.
func (b *Badge) Media(variant string) string {
	switch variant {
	case "image":
		return b.def.Media.Image
	case "thumbnail":
		return b.def.Media.Thumbnail
	case "icon":
		return b.def.Media.Icon
	}
	return ""
}

// AchievedUserBadges lists the holders of this badge ordered by achieved
// time; limit 0 means all.
func (b *Badge) AchievedUserBadges(ctx context.Context, limit int) ([]Award, error) {
	return b.achievement.env.Store.ListAwards(ctx, b.achievement.ID(), b.level, limit)
}
