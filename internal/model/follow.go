package model

import "time"

// Follow is a directional edge: FollowerID follows FollowedID.
//
// One row backs both views of the edge. It shows up in the follower's
// "followed" list and in the followee's "followers" list, so the two lists
// cannot disagree.
type Follow struct {
	FollowerID string    `json:"followerId" db:"follower_id"`
	FollowedID string    `json:"followedId" db:"followed_id"`
	Timestamp  time.Time `json:"timestamp"  db:"ts"`
}

// FollowEdge is one entry of a followers/followed list, seen from the
// owner of the list: UserID is the other end of the edge.
type FollowEdge struct {
	UserID     string    `json:"userId"`
	Username   string    `json:"username"`
	AvatarHash string    `json:"avatarHash"`
	Timestamp  time.Time `json:"timestamp"`
}
