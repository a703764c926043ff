package threads

import (
	"time"

	"github.com/DVDAndroid/shoelace/internal/model"
)

// 上流プロバイダーのJSONレスポンス形式。

type userPayload struct {
	ID            string        `json:"id"`
	Username      string        `json:"username"`
	FullName      string        `json:"full_name"`
	IsVerified    bool          `json:"is_verified"`
	Biography     string        `json:"biography"`
	ProfilePicURL string        `json:"profile_pic_url"`
	FollowerCount int           `json:"follower_count"`
	BioLinks      []linkPayload `json:"bio_links"`
	Threads       []postPayload `json:"threads"`
}

type linkPayload struct {
	URL string `json:"url"`
}

type authorPayload struct {
	Username      string `json:"username"`
	ProfilePicURL string `json:"profile_pic_url"`
	IsVerified    bool   `json:"is_verified"`
}

type postPayload struct {
	ID        string         `json:"id"`
	Code      string         `json:"code"`
	User      authorPayload  `json:"user"`
	TakenAt   int64          `json:"taken_at"`
	Caption   string         `json:"caption"`
	LikeCount int            `json:"like_count"`
	Media     []mediaPayload `json:"media"`
}

type mediaPayload struct {
	Type         string `json:"type"`
	AltText      string `json:"alt_text"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url"`
}

type threadPayload struct {
	Post    postPayload   `json:"post"`
	Parents []postPayload `json:"parents"`
	Replies []postPayload `json:"replies"`
}

// 以下はペイロードからドメインモデルへの変換。
// テキストは全てSanitizeを通す。URLはオリジンのまま渡し、書き換えはrewriteが行う。

func (c *Client) toUser(p *userPayload) *model.User {
	user := &model.User{
		ID:        p.ID,
		Name:      c.sanitizer.Sanitize(p.FullName),
		Username:  p.Username,
		Verified:  p.IsVerified,
		Bio:       c.sanitizer.Sanitize(p.Biography),
		PFP:       p.ProfilePicURL,
		Followers: p.FollowerCount,
		Links:     make([]string, 0, len(p.BioLinks)),
		Posts:     make([]model.Subpost, 0, len(p.Threads)),
	}
	for _, l := range p.BioLinks {
		if l.URL != "" {
			user.Links = append(user.Links, l.URL)
		}
	}
	for i := range p.Threads {
		user.Posts = append(user.Posts, c.toSubpost(&p.Threads[i]))
	}
	return user
}

func (c *Client) toPost(p *threadPayload) *model.Post {
	post := &model.Post{
		ID:      p.Post.ID,
		Code:    p.Post.Code,
		Author:  toAuthor(&p.Post.User),
		Date:    toTime(p.Post.TakenAt),
		Body:    c.sanitizer.Sanitize(p.Post.Caption),
		Media:   c.toMedia(p.Post.Media),
		Likes:   p.Post.LikeCount,
		Parents: make([]model.Subpost, 0, len(p.Parents)),
		Replies: make([]model.Subpost, 0, len(p.Replies)),
	}
	for i := range p.Parents {
		post.Parents = append(post.Parents, c.toSubpost(&p.Parents[i]))
	}
	for i := range p.Replies {
		post.Replies = append(post.Replies, c.toSubpost(&p.Replies[i]))
	}
	return post
}

func (c *Client) toSubpost(p *postPayload) model.Subpost {
	return model.Subpost{
		Code:   p.Code,
		Author: toAuthor(&p.User),
		Date:   toTime(p.TakenAt),
		Body:   c.sanitizer.Sanitize(p.Caption),
		Media:  c.toMedia(p.Media),
		Likes:  p.LikeCount,
	}
}

func (c *Client) toMedia(items []mediaPayload) []model.Media {
	media := make([]model.Media, 0, len(items))
	for _, m := range items {
		if m.URL == "" {
			continue
		}
		kind := model.MediaKindImage
		if m.Type == "video" {
			kind = model.MediaKindVideo
		}
		media = append(media, model.Media{
			Kind:      kind,
			Alt:       c.sanitizer.Sanitize(m.AltText),
			Content:   m.URL,
			Thumbnail: m.ThumbnailURL,
		})
	}
	return media
}

func toAuthor(p *authorPayload) model.Author {
	return model.Author{
		Username: p.Username,
		PFP:      p.ProfilePicURL,
		Verified: p.IsVerified,
	}
}

func toTime(unix int64) time.Time {
	if unix <= 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0).UTC()
}
