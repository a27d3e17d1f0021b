// Package apiclient is the outbound client for the upstream REST API.
//
// Every call goes through Client.Do. When an authenticated call comes back
// 401 and has not been retried yet, the client exchanges the refresh token
// and replays the call once with the new access token. Concurrent calls that
// fail with the same refresh token share a single exchange: the first one
// starts it and the rest wait for its result.
//
//	client, err := apiclient.New(cfg, apiclient.WithLogger(log))
//	resp, err := client.Do(ctx, &apiclient.Request{
//		Method:      http.MethodGet,
//		Path:        "/posts",
//		Credentials: apiclient.Credentials{AccessToken: at, RefreshToken: rt},
//		OnRefresh: func(p apiclient.TokenPair) error {
//			// persist p
//			return nil
//		},
//	})
//	if errors.Is(err, apiclient.ErrUnauthorized) {
//		// refresh exhausted, the session is no longer usable
//	}
package apiclient
