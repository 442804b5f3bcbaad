package transfer

type InstagramContainerResponse struct {
	ID string `json:"id"`
}

type InstagramPublishResponse struct {
	ID string `json:"id"`
}
