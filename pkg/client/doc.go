// Package client is the Go SDK for the fangate HTTP API.
//
// Fans' frontends normally talk to fangate directly; this package serves
// operator tooling (fgctl) and server-side integrations.
//
// # Submitting a fan message
//
//	c, err := client.New("https://fangate.example.com")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := c.Submit(ctx, "talent-7", client.Submission{
//	    Content:     "loved the show",
//	    Fingerprint: deviceID,
//	})
//
// A non-2xx answer comes back as *APIError. Challenge and rate-limit
// outcomes are easy to branch on:
//
//	var apiErr *client.APIError
//	if errors.As(err, &apiErr) && apiErr.ChallengeRequired() {
//	    // show the captcha widget, then resubmit with CaptchaToken set
//	}
//
// # Admin calls
//
// Trust inspection, trust reset and content dry-runs need an admin JWT
// (mint one with "fgctl token"):
//
//	c, _ := client.New(base, client.WithBearerToken(token))
//	tr, _ := c.GetTrust(ctx, "fp-123")
//	_ = c.ResetTrust(ctx, "fp-123")
package client
