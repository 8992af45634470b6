package sources

// DefaultDescriptors returns the standard roster of trend sources served by
// the aggregation backend, in canonical processing order.
func DefaultDescriptors() []Descriptor {
	return []Descriptor{
		{
			ID:          "google",
			DisplayName: "Google Trends",
			Endpoint:    "/api/google-trends",
			Params:      map[string]string{"country": "JP"},
		},
		{
			ID:          "youtube",
			DisplayName: "YouTube",
			Endpoint:    "/api/youtube-trends",
			Params:      map[string]string{"region": "JP"},
		},
		{
			ID:          "music",
			DisplayName: "Spotify",
			Endpoint:    "/api/music-trends",
			Params:      map[string]string{"service": "spotify"},
		},
		{
			ID:          "news",
			DisplayName: "News",
			Endpoint:    "/api/news-trends",
		},
		{
			ID:          "worldnews",
			DisplayName: "World News",
			Endpoint:    "/api/worldnews-trends",
		},
		{
			ID:          "podcast",
			DisplayName: "Podcast",
			Endpoint:    "/api/podcast-trends",
		},
		{
			ID:          "rakuten",
			DisplayName: "楽天",
			Endpoint:    "/api/rakuten-trends",
		},
		{
			ID:          "hatena",
			DisplayName: "はてなブックマーク",
			Endpoint:    "/api/hatena-trends",
		},
		{
			ID:          "twitch",
			DisplayName: "Twitch",
			Endpoint:    "/api/twitch-trends",
		},
		{
			ID:          "crypto",
			DisplayName: "Crypto",
			Endpoint:    "/api/crypto-trends",
		},
		{
			ID:          "stock",
			DisplayName: "Stocks",
			Endpoint:    "/api/stock-trends",
		},
		{
			ID:          "movie",
			DisplayName: "Movies",
			Endpoint:    "/api/movie-trends",
		},
		{
			ID:          "hackernews",
			DisplayName: "Hacker News",
			Endpoint:    "/api/hackernews-trends",
		},
		{
			ID:          "qiita",
			DisplayName: "Qiita",
			Endpoint:    "/api/qiita-trends",
		},
	}
}

// DefaultRegistry returns a Registry of the standard source roster.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultDescriptors())
	if err != nil {
		// The built-in roster is validated by tests; this cannot fail.
		panic(err)
	}
	return r
}
