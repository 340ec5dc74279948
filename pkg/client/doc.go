// Package client is the Stayward Go SDK.
//
// It wraps the HTTP API: stays, unlock petitions and the audit log.
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithBearerToken(token),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Editing a locked stay
//
// Edits to a stay whose check-in is more than 24 hours past fail with a
// locked error. File a petition, have an administrator approve it, then
// retry as that administrator:
//
//	_, err = c.UpdateStay(ctx, id, client.StayUpdate{Notes: ptr("late checkout")})
//	if client.IsLocked(err) {
//	    p, _ := c.SubmitPetition(ctx, id, "guest extended stay")
//	    _, _ = admin.ReviewPetition(ctx, p.ID, client.DecisionApproved, "ok")
//	    _, err = admin.UpdateStay(ctx, id, client.StayUpdate{Notes: ptr("late checkout")})
//	}
//
// # Tokens
//
// Tokens are minted by the operator CLI ('staywardctl token issue') and may
// be saved to a file that LoadToken reads back.
package client
