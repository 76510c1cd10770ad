// Package tokenledger meters a content platform's paid operations in tokens.
//
// Every user holds one balance. Operations such as TEXT_REPURPOSE or
// VIDEO_PROCESSING debit a fixed cost from it, each subscription tier grants
// a monthly allotment, and a balance is replenished lazily: the first read
// after its reset date starts a new period. Every debit and grant is appended
// to a per-user transaction log.
//
// # Quick Start
//
//	s, err := postgres.Open(ctx, os.Getenv("DATABASE_URL"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	l := tokenledger.New(s, tokenledger.WithLogger(logger))
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Stop()
//
//	res, err := l.Debit(ctx, userID, catalog.OpImageGeneration, contentID)
//	if err != nil {
//	    return err
//	}
//	if !res.Success {
//	    // not enough tokens
//	}
//
// # Two debit contracts
//
// Debit reports insufficiency in its result. Record returns an
// *InsufficientTokensError instead, which matches ErrInsufficientTokens under
// errors.Is. Both take the same write path: the store applies the debit only
// while tokens_remaining >= cost, so concurrent debits cannot overdraw.
//
// # Subscriptions
//
// Subscription state arrives from Stripe through the webhook package.
// Grant overwrites a balance with the tier's full allotment; Downgrade resets
// a canceled user to the FREE allotment without logging a transaction.
//
// # TypeID
//
// Rows use TypeIDs with the prefixes tbal, tsub and ttx; processed webhook
// events are keyed by the provider event id.
package tokenledger
