/*
Package security encrypts backend credentials at rest.

Storage settings committed by a migration carry the target backend's options,
which for cloud backends include secrets such as an S3 secret key or an Azure
account key. Those settings are persisted in the bbolt state store. When a
secrets key is configured, the tenant manager seals credential options with
AES-256-GCM before saving and opens them after loading, so the database file
never holds them in plaintext.

# Format

A sealed option value is the string "enc:v1:" followed by the standard
base64 encoding of nonce || ciphertext. Only the options listed by
IsCredentialOption are sealed; bucket names, regions and paths stay readable
for operators inspecting the store.

	sm, err := security.NewSecretsManagerFromPassword(os.Getenv("STASH_SECRETS_KEY"))
	if err != nil {
		return err
	}
	sealed, err := sm.SealOptions(desc)
	...
	plain, err := sm.OpenOptions(sealed)

The key is derived from the configured password with SHA-256. Changing the
password makes previously sealed settings unreadable; OpenOptions then fails
and the factory reports the tenant's backend as misconfigured.
*/
package security
