package redis

import goredis "github.com/redis/go-redis/v9"

const (
	createStatusExists  int64 = 0
	createStatusCreated int64 = 1
)

const (
	rotateStatusNotFound      int64 = 0
	rotateStatusRevoked       int64 = 1
	rotateStatusRotated       int64 = 2
	rotateStatusSuccessorLive int64 = 3
)

const (
	revokeStatusNotFound int64 = -1
	revokeStatusNoop     int64 = 0
	revokeStatusRevoked  int64 = 1
)

// sessionLiveCheck returns true when the session pointer at key names a
// token other than except that is still unrevoked.
const sessionLiveCheck = `
local function session_live(prefix, key, except)
  local cur = redis.call("GET", key)
  if not cur or cur == except then
    return false
  end
  return redis.call("HGET", prefix .. "rth:" .. cur, "revoked") == "0"
end
`

// KEYS: token, id, user set, session pointer
// ARGV: prefix, hash, id, user id, session id, issued, expires
const createScript = sessionLiveCheck + `
if redis.call("EXISTS", KEYS[1]) == 1 or redis.call("EXISTS", KEYS[2]) == 1 then
  return 0
end
if session_live(ARGV[1], KEYS[4], "") then
  return 0
end
redis.call("HSET", KEYS[1],
  "hash", ARGV[2], "id", ARGV[3], "user_id", ARGV[4], "session_id", ARGV[5],
  "issued_at", ARGV[6], "expires_at", ARGV[7], "revoked", "0")
redis.call("SET", KEYS[2], ARGV[2])
redis.call("SADD", KEYS[3], ARGV[2])
redis.call("SET", KEYS[4], ARGV[2])
return 1
`

var createLua = goredis.NewScript(createScript)

// KEYS: old token, next token, next id, user set, next session pointer
// ARGV: prefix, old hash, next hash, next id, user id, session id,
// issued, expires, now, reason
const rotateScript = sessionLiveCheck + `
local revoked = redis.call("HGET", KEYS[1], "revoked")
if not revoked then
  return 0
end
if revoked == "1" then
  return 1
end
if redis.call("EXISTS", KEYS[2]) == 1 or redis.call("EXISTS", KEYS[3]) == 1 then
  return 3
end
if session_live(ARGV[1], KEYS[5], ARGV[2]) then
  return 3
end

redis.call("HSET", KEYS[1],
  "revoked", "1", "reason", ARGV[10], "revoked_at", ARGV[9], "replaced_by", ARGV[4])
redis.call("HSET", KEYS[2],
  "hash", ARGV[3], "id", ARGV[4], "user_id", ARGV[5], "session_id", ARGV[6],
  "issued_at", ARGV[7], "expires_at", ARGV[8], "revoked", "0")
redis.call("SET", KEYS[3], ARGV[3])
redis.call("SADD", KEYS[4], ARGV[3])
redis.call("SET", KEYS[5], ARGV[3])
return 2
`

var rotateLua = goredis.NewScript(rotateScript)

// KEYS: id
// ARGV: prefix, reason, now
const revokeScript = `
local h = redis.call("GET", KEYS[1])
if not h then
  return -1
end
local key = ARGV[1] .. "rth:" .. h
if redis.call("HGET", key, "revoked") ~= "0" then
  return 0
end
redis.call("HSET", key, "revoked", "1", "reason", ARGV[2], "revoked_at", ARGV[3])
return 1
`

var revokeLua = goredis.NewScript(revokeScript)
