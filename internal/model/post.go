package model

import "time"

// Post is a piece of authored content.
//
// BodyHTML is derived from Body by the markdown renderer and is rewritten
// every time Body changes. Nothing writes BodyHTML directly.
type Post struct {
	ID        string    `json:"id"        db:"id"`
	Body      string    `json:"body"      db:"body"`
	BodyHTML  string    `json:"bodyHtml"  db:"body_html"`
	AuthorID  string    `json:"authorId"  db:"author_id"`
	Timestamp time.Time `json:"timestamp" db:"ts"`
}

// Author is the slice of a User shown next to a post.
type Author struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	AvatarHash string `json:"avatarHash"`
}

// PostView is a post with its author resolved, as returned by feed queries.
type PostView struct {
	Post
	Author Author `json:"author"`
}
