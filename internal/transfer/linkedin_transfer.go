package transfer

type LinkedinTokenResponse struct {
	AccessToken           string `json:"access_token"`
	ExpiresIn             int    `json:"expires_in"`
	RefreshToken          string `json:"refresh_token"`
	RefreshTokenExpiresIn int    `json:"refresh_token_expires_in"`
	Scope                 string `json:"scope"`
}

type LinkedinUserInfo struct {
	Sub        string `json:"sub"`
	Name       string `json:"name"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Email      string `json:"email"`
	Picture    string `json:"picture"`
}

type LinkedinShareRequest struct {
	Author          string                  `json:"author"`
	LifecycleState  string                  `json:"lifecycleState"`
	SpecificContent LinkedinSpecificContent `json:"specificContent"`
	Visibility      LinkedinShareVisibility `json:"visibility"`
}

type LinkedinSpecificContent struct {
	ShareContent LinkedinShareContent `json:"com.linkedin.ugc.ShareContent"`
}

type LinkedinShareContent struct {
	ShareCommentary    LinkedinText `json:"shareCommentary"`
	ShareMediaCategory string       `json:"shareMediaCategory"`
}

type LinkedinText struct {
	Text string `json:"text"`
}

type LinkedinShareVisibility struct {
	MemberNetworkVisibility string `json:"com.linkedin.ugc.MemberNetworkVisibility"`
}

type LinkedinShareResponse struct {
	ID string `json:"id"`
}

type LinkedinErrorResponse struct {
	Message        string `json:"message"`
	ServiceErrCode int    `json:"serviceErrorCode"`
	Status         int    `json:"status"`
}
