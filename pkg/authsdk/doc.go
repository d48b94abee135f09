// Package authsdk is the Go client for the flightdesk auth service and holds
// the wire types shared by the server handlers.
//
// A typical flow:
//
//	client := authsdk.NewSDKClient("https://auth.example.com")
//	sess, err := client.Login(ctx, "amelia", "correct horse", "")
//	if err != nil {
//		// *authsdk.OAuth2Error with Code "invalid_grant" on bad credentials
//	}
//	me, err := sess.Me(ctx) // refreshes the access token when needed
//
// Refresh tokens rotate on every use. A Session always holds the latest one;
// presenting an older token again fails with invalid_grant.
package authsdk
