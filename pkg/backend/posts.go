package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/myeasypage/easypage/pkg/db"
	"github.com/myeasypage/easypage/pkg/model"
)

const maxSlugLength = 191

var errPostNotFound = model.NotFound("post not found")

func postView(p db.Post) model.PostView {
	return model.PostView{
		ID:             p.ID,
		Title:          p.Title,
		Slug:           p.Slug,
		Content:        p.Content,
		SEOTitle:       p.SEOTitle,
		SEODescription: p.SEODescription,
		Published:      p.Published,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

// Slugify lowercases s and joins its alphanumeric runs with single hyphens.
func Slugify(s string) string {
	var sb strings.Builder
	hyphen := false
	for _, c := range strings.ToLower(s) {
		switch {
		case (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9'):
			sb.WriteRune(c)
			hyphen = false
		case sb.Len() > 0 && !hyphen:
			sb.WriteByte('-')
			hyphen = true
		}
	}
	slug := strings.TrimSuffix(sb.String(), "-")
	if len(slug) > maxSlugLength {
		slug = strings.TrimSuffix(slug[:maxSlugLength], "-")
	}
	return slug
}

func applyPost(p *db.Post, req model.PostRequest) error {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return model.Validation("title is required")
	}
	slug := req.Slug
	if slug == "" {
		slug = title
	}
	slug = Slugify(slug)
	if slug == "" {
		return model.Validation("slug must contain letters or digits")
	}

	p.Title = title
	p.Slug = slug
	p.Content = req.Content
	p.SEOTitle = strings.TrimSpace(req.SEOTitle)
	p.SEODescription = strings.TrimSpace(req.SEODescription)
	p.Published = req.Published
	return nil
}

func (b *backend) ListPosts(ctx context.Context, ownerID uint, publishedOnly bool) ([]model.PostView, error) {
	posts, err := b.db.ListPosts(ctx, ownerID, publishedOnly)
	if err != nil {
		return nil, fmt.Errorf("listing posts: %w", err)
	}
	views := make([]model.PostView, 0, len(posts))
	for _, p := range posts {
		views = append(views, postView(p))
	}
	return views, nil
}

func (b *backend) GetPost(ctx context.Context, ownerID uint, slug string, publishedOnly bool) (model.PostView, error) {
	post, err := b.db.GetPostBySlug(ctx, ownerID, strings.ToLower(slug), publishedOnly)
	if errors.Is(err, db.ErrNotFound) {
		return model.PostView{}, errPostNotFound
	} else if err != nil {
		return model.PostView{}, err
	}
	return postView(post), nil
}

func (b *backend) CreatePost(ctx context.Context, ownerID uint, req model.PostRequest) (model.PostView, error) {
	post := db.Post{OwnerID: ownerID}
	if err := applyPost(&post, req); err != nil {
		return model.PostView{}, err
	}
	if err := b.db.CreatePost(ctx, &post); errors.Is(err, db.ErrDuplicate) {
		return model.PostView{}, model.Conflict("a post with slug %q already exists", post.Slug)
	} else if err != nil {
		return model.PostView{}, fmt.Errorf("creating post: %w", err)
	}
	return postView(post), nil
}

func (b *backend) UpdatePost(ctx context.Context, ownerID, id uint, req model.PostRequest) (model.PostView, error) {
	post, err := b.db.GetPost(ctx, ownerID, id)
	if errors.Is(err, db.ErrNotFound) {
		return model.PostView{}, errPostNotFound
	} else if err != nil {
		return model.PostView{}, err
	}
	if err := applyPost(&post, req); err != nil {
		return model.PostView{}, err
	}
	if err := b.db.SavePost(ctx, &post); errors.Is(err, db.ErrDuplicate) {
		return model.PostView{}, model.Conflict("a post with slug %q already exists", post.Slug)
	} else if err != nil {
		return model.PostView{}, fmt.Errorf("saving post: %w", err)
	}
	return postView(post), nil
}

func (b *backend) DeletePost(ctx context.Context, ownerID, id uint) error {
	if err := b.db.DeletePost(ctx, ownerID, id); errors.Is(err, db.ErrNotFound) {
		return errPostNotFound
	} else if err != nil {
		return fmt.Errorf("deleting post: %w", err)
	}
	return nil
}
