package types

// FeedResponse is the root structure of a Bluesky feed query.
type FeedResponse struct {
	Cursor string      `json:"cursor"`
	Feed   []FeedEntry `json:"feed"`
}

type FeedEntry struct {
	Post FeedPost `json:"post"`
}

type FeedPost struct {
	URI       string     `json:"uri"`
	CID       string     `json:"cid"`
	IndexedAt string     `json:"indexedAt"`
	Record    FeedRecord `json:"record"`
}

type FeedRecord struct {
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt"`
}
