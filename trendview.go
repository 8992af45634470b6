package trendview

// Release is the current release version of go-trendview.
const Release = "v0.1.0"
