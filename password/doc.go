// Package password implements the credential hasher.
//
// New digests are argon2id PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Accounts imported from the previous deployment carry bcrypt digests. [Auto]
// hashes with argon2id and verifies with whichever scheme recognizes the stored
// digest; [Auto.NeedsUpgrade] lets the engine rehash legacy digests after a
// successful login.
//
// Password policy (minimum length) is enforced by the engine, not here.
// Nothing in this package logs plaintext or digests.
package password
